package api

import (
	"sort"
	"strings"

	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
)

// allowedKeys enumerates, per endpoint, the only payload keys accepted
// (spec section 4.7 item 1 and section 6's recognized-options table).
// Unknown parameters are rejected with a listing.
var allowedKeys = map[RequestType][]string{
	TypeAdd: {
		"bundles", "binary_image", "from_index", "add_arches", "organization",
		"cnr_token", "force_backport", "overwrite_from_index",
		"overwrite_from_index_token", "distribution_scope", "deprecation_list",
		"build_tags", "graph_update_mode", "check_related_images",
	},
	TypeRM: {
		"operators", "binary_image", "from_index", "add_arches",
		"overwrite_from_index", "overwrite_from_index_token",
		"distribution_scope", "build_tags",
	},
	TypeRegenerateBundle: {
		"from_bundle_image", "organization", "bundle_replacements",
		"related_bundles_url",
	},
	TypeMergeIndexImage: {
		"source_from_index", "target_index", "binary_image", "add_arches",
		"deprecation_list", "ignore_bundle_ocp_version", "distribution_scope",
		"build_tags", "overwrite_target_index", "overwrite_target_index_token",
	},
	TypeCreateEmptyIndex: {
		"from_index", "binary_image", "labels", "output_fbc",
	},
	TypeFBCOperations: {
		"fbc_fragments", "from_index", "binary_image", "add_arches",
		"distribution_scope", "build_tags",
	},
	TypeAddDeprecations: {
		"from_index", "binary_image", "operators", "deprecation_schemas",
	},
	TypeRecursiveRelatedBundles: {
		"from_bundle_image", "organization",
	},
}

// checkUnknownKeys rejects any payload key not in the endpoint's allow list.
func checkUnknownKeys(reqType RequestType, payload map[string]interface{}) error {
	allowed := make(map[string]bool, len(allowedKeys[reqType]))
	for _, k := range allowedKeys[reqType] {
		allowed[k] = true
	}
	var unknown []string
	for k := range payload {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return iiberrors.Validationf("The following parameters are invalid: %s", strings.Join(unknown, ", "))
	}
	return nil
}

func getString(payload map[string]interface{}, key string) (string, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func getBool(payload map[string]interface{}, key string) bool {
	v, ok := payload[key]
	if !ok || v == nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

func getStringSlice(payload map[string]interface{}, key string) ([]string, error) {
	v, ok := payload[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, iiberrors.Validationf("%s must be a list of strings", key)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, iiberrors.Validationf("%s must be a list of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}

func getStringMap(payload map[string]interface{}, key string) (map[string]string, error) {
	v, ok := payload[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.(map[string]interface{})
	if !ok {
		return nil, iiberrors.Validationf("%s must be a JSON object", key)
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		s, ok := val.(string)
		if !ok {
			return nil, iiberrors.Validationf("%s.%s must be a string", key, k)
		}
		out[k] = s
	}
	return out, nil
}

// UserPrivileges is supplied by the surrounding service (the core treats
// identity as injected) and records which of the privileged capabilities
// the authenticated caller holds.
type UserPrivileges struct {
	Username                string
	CanForceOverwrite       bool
	IsWorker                bool
}

func validateOverwrite(payload map[string]interface{}, priv UserPrivileges) (overwrite bool, token string, err error) {
	overwrite = getBool(payload, "overwrite_from_index")
	token, hasToken := getString(payload, "overwrite_from_index_token")
	if hasToken && !overwrite {
		return false, "", iiberrors.Validationf("overwrite_from_index_token should only be used with overwrite_from_index")
	}
	if overwrite && !hasToken && !priv.CanForceOverwrite {
		return false, "", iiberrors.Authorizationf("%s is not allowed to set overwrite_from_index without an overwrite_from_index_token", priv.Username)
	}
	return overwrite, token, nil
}

func validateOverwriteTarget(payload map[string]interface{}, priv UserPrivileges) (overwrite bool, token string, err error) {
	overwrite = getBool(payload, "overwrite_target_index")
	token, hasToken := getString(payload, "overwrite_target_index_token")
	if hasToken && !overwrite {
		return false, "", iiberrors.Validationf("overwrite_target_index_token should only be used with overwrite_target_index")
	}
	if overwrite && !hasToken && !priv.CanForceOverwrite {
		return false, "", iiberrors.Authorizationf("%s is not allowed to set overwrite_target_index without an overwrite_target_index_token", priv.Username)
	}
	return overwrite, token, nil
}

func validateDistributionScope(payload map[string]interface{}) (DistributionScope, error) {
	s, ok := getString(payload, "distribution_scope")
	if !ok {
		return "", nil
	}
	switch DistributionScope(strings.ToLower(s)) {
	case ScopeProd, ScopeStage, ScopeDev:
		return DistributionScope(strings.ToLower(s)), nil
	default:
		return "", iiberrors.Validationf("distribution_scope must be one of prod, stage, dev")
	}
}

func validateGraphUpdateMode(payload map[string]interface{}) (GraphUpdateMode, error) {
	s, ok := getString(payload, "graph_update_mode")
	if !ok {
		return "", nil
	}
	switch GraphUpdateMode(s) {
	case GraphReplaces, GraphSemver, GraphSemverSkipPatch:
		return GraphUpdateMode(s), nil
	default:
		return "", iiberrors.Validationf("graph_update_mode must be one of replaces, semver, semver-skippatch")
	}
}

// ValidateStateName checks a /builds?state= filter value, returning the
// sorted list of valid names in the error message (spec section 8).
func ValidateStateName(state string) error {
	for _, valid := range ValidStateNames() {
		if state == valid {
			return nil
		}
	}
	return iiberrors.Validationf("%s is not a valid state. It must be one of: %s", state, strings.Join(ValidStateNames(), ", "))
}

// ValidateBatchID checks the batch query/path parameter (spec section 8).
func ValidateBatchID(batch int64) error {
	if batch <= 0 {
		return iiberrors.Validationf("The batch must be a positive integer")
	}
	return nil
}

func requireOneOf(payload map[string]interface{}, keys ...string) error {
	for _, k := range keys {
		if v, ok := payload[k]; ok && v != nil {
			return nil
		}
	}
	return iiberrors.Validationf("one of %s is required", strings.Join(keys, ", "))
}

func requireAll(payload map[string]interface{}, keys ...string) error {
	var missing []string
	for _, k := range keys {
		v, ok := payload[k]
		if !ok || v == nil {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return iiberrors.Validationf("missing required parameter(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

