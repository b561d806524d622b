package transport

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/fieldops/internal/workflow"
	"github.com/pitabwire/fieldops/model"
)

// multipartMemory is the part of a photo upload kept in memory before
// spilling to a temporary file.
const multipartMemory = 8 << 20

func handleStartSession(engine *workflow.Engine) http.HandlerFunc {
	return create(http.StatusCreated, engine.StartSession)
}

func handleGetSession(engine *workflow.Engine) http.HandlerFunc {
	return byID(http.StatusOK, engine.GetSession)
}

func handlePauseSession(engine *workflow.Engine) http.HandlerFunc {
	return byID(http.StatusOK, engine.PauseSession)
}

func handleResumeSession(engine *workflow.Engine) http.HandlerFunc {
	return byID(http.StatusOK, engine.ResumeSession)
}

// handleSubmitReport accepts an empty body when there is nothing to add.
func handleSubmitReport(engine *workflow.Engine) http.HandlerFunc {
	return update(http.StatusCreated, true, engine.SubmitReport)
}

func handleListPhotos(engine *workflow.Engine) http.HandlerFunc {
	return listByID(engine.ListPhotos)
}

func handleAddFinding(engine *workflow.Engine) http.HandlerFunc {
	return update(http.StatusCreated, false, engine.AddFinding)
}

func handleCompleteStep(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var in workflow.CompleteStepInput
		if err := decodeJSON(r, &in, false); err != nil {
			WriteError(w, err)
			return
		}
		progress, err := engine.CompleteStep(r.Context(), rctx, chi.URLParam(r, "id"), chi.URLParam(r, "stepId"), in)
		reply(w, http.StatusOK, progress, err)
	}
}

func handleUploadPhoto(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}

		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			msg := "expected a multipart/form-data body"
			if _, tooLarge := errors.AsType[*http.MaxBytesError](err); tooLarge {
				msg = "photo exceeds the upload size limit"
			}
			WriteError(w, model.NewBadRequestError(msg))
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		in := workflow.PhotoInput{
			StepID:  r.FormValue("step_id"),
			Caption: r.FormValue("caption"),
		}
		file, header, err := r.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			WriteError(w, model.NewBadRequestError("unable to read uploaded file"))
			return
		default:
			defer file.Close()
			in.Body = file
			in.FileName = header.Filename
			in.Size = header.Size
			in.ContentType = header.Header.Get("Content-Type")
		}

		photo, err := engine.AddPhoto(r.Context(), rctx, chi.URLParam(r, "id"), in)
		reply(w, http.StatusCreated, photo, err)
	}
}
