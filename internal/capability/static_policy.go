package capability

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/fieldops/model"
)

// capabilityPattern accepts "namespace:action", "namespace:*" and "*".
var capabilityPattern = regexp.MustCompile(`^(\*|[a-z][a-z_]*:(\*|[a-z][a-z_]*))$`)

// DefaultPolicy is the role policy used when no policy file is configured.
// Procedure management is left to admin.
func DefaultPolicy() map[string][]string {
	return map[string][]string{
		model.RoleTechnician: {
			model.CapWorkOrdersView,
			model.CapSessionsExecute,
			model.CapApprovalsRequest,
			model.CapAssistantUse,
		},
		model.RoleManager: {
			"workorders:*",
			"approvals:*",
			model.CapSessionsExecute,
			model.CapReportsSend,
			model.CapEquipmentManage,
			model.CapAssistantUse,
		},
		model.RoleAdmin: {"*"},
	}
}

// StaticPolicyEvaluator maps token roles to capabilities using a YAML file of
// the form:
//
//	roles:
//	  technician: [workorders:view, sessions:execute]
//
// Unknown roles grant nothing.
type StaticPolicyEvaluator struct {
	path string

	mu    sync.RWMutex
	roles map[string]model.CapabilitySet
}

// NewStaticPolicyEvaluator loads the policy at path, or DefaultPolicy when
// path is empty.
func NewStaticPolicyEvaluator(path string) (*StaticPolicyEvaluator, error) {
	e := &StaticPolicyEvaluator{path: path}
	if _, err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// ResolveCapabilities returns the union of the caller's role grants.
func (e *StaticPolicyEvaluator) ResolveCapabilities(rctx *model.RequestContext) (model.CapabilitySet, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	caps := model.CapabilitySet{}
	for _, role := range rctx.Roles {
		for c := range e.roles[role] {
			caps[c] = true
		}
	}
	return caps, nil
}

// Reload re-reads the policy file and returns the configured role names. On
// error the previous policy stays in force.
func (e *StaticPolicyEvaluator) Reload() ([]string, error) {
	raw := DefaultPolicy()
	if e.path != "" {
		var err error
		if raw, err = readPolicyFile(e.path); err != nil {
			return nil, err
		}
	}

	roles := make(map[string]model.CapabilitySet, len(raw))
	names := make([]string, 0, len(raw))
	for role, grants := range raw {
		set := make(model.CapabilitySet, len(grants))
		for _, g := range grants {
			if !capabilityPattern.MatchString(g) {
				return nil, fmt.Errorf("capability: role %q grants malformed capability %q", role, g)
			}
			set[g] = true
		}
		roles[role] = set
		names = append(names, role)
	}
	sort.Strings(names)

	e.mu.Lock()
	e.roles = roles
	e.mu.Unlock()
	return names, nil
}

func readPolicyFile(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("capability: read policy %s: %w", path, err)
	}
	var doc struct {
		Roles map[string][]string `yaml:"roles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("capability: parse policy %s: %w", path, err)
	}
	if len(doc.Roles) == 0 {
		return nil, fmt.Errorf("capability: policy %s defines no roles", path)
	}
	return doc.Roles, nil
}
