package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
)

func TestParseAddRequestRequiresFromIndexOrAddArches(t *testing.T) {
	_, err := ParseAddRequest(map[string]interface{}{
		"binary_image": "quay.io/acme/opm:latest",
	}, UserPrivileges{Username: "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from_index")
}

func TestParseAddRequestRejectsUnknownKeys(t *testing.T) {
	_, err := ParseAddRequest(map[string]interface{}{
		"binary_image": "quay.io/acme/opm:latest",
		"from_index":   "quay.io/acme/index:v4.19",
		"bogus":        "x",
	}, UserPrivileges{Username: "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestParseAddRequestOverwriteTokenWithoutOverwriteRejected(t *testing.T) {
	_, err := ParseAddRequest(map[string]interface{}{
		"binary_image":               "quay.io/acme/opm:latest",
		"from_index":                 "quay.io/acme/index:v4.19",
		"overwrite_from_index_token": "tok",
	}, UserPrivileges{Username: "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overwrite_from_index_token")
}

func TestParseAddRequestOverwriteWithoutTokenRequiresPrivilege(t *testing.T) {
	_, err := ParseAddRequest(map[string]interface{}{
		"binary_image":          "quay.io/acme/opm:latest",
		"from_index":            "quay.io/acme/index:v4.19",
		"overwrite_from_index":  true,
	}, UserPrivileges{Username: "alice", CanForceOverwrite: false})
	require.Error(t, err)
	_, isAuthErr := err.(*iiberrors.AuthorizationError)
	assert.True(t, isAuthErr)
}

func TestParseAddRequestOverwriteWithPrivilegeAccepted(t *testing.T) {
	req, err := ParseAddRequest(map[string]interface{}{
		"binary_image":         "quay.io/acme/opm:latest",
		"from_index":           "quay.io/acme/index:v4.19",
		"overwrite_from_index": true,
	}, UserPrivileges{Username: "worker-bot", CanForceOverwrite: true})
	require.NoError(t, err)
	assert.True(t, req.OverwriteFromIndex)
}

func TestParseAddRequestInvalidDistributionScope(t *testing.T) {
	_, err := ParseAddRequest(map[string]interface{}{
		"binary_image":      "quay.io/acme/opm:latest",
		"from_index":        "quay.io/acme/index:v4.19",
		"distribution_scope": "qa",
	}, UserPrivileges{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "distribution_scope")
}

func TestParseRMRequestRequiresOperators(t *testing.T) {
	_, err := ParseRMRequest(map[string]interface{}{
		"binary_image": "quay.io/acme/opm:latest",
		"from_index":   "quay.io/acme/index:v4.19",
		"operators":    []interface{}{},
	}, UserPrivileges{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operators")
}

func TestParseRMRequestValid(t *testing.T) {
	req, err := ParseRMRequest(map[string]interface{}{
		"binary_image": "quay.io/acme/opm:latest",
		"from_index":   "quay.io/acme/index:v4.19",
		"operators":    []interface{}{"etcd-operator"},
	}, UserPrivileges{})
	require.NoError(t, err)
	assert.Equal(t, []string{"etcd-operator"}, req.Operators)
}

func TestParseFBCOperationsRequiresNonEmptyFragments(t *testing.T) {
	_, err := ParseFBCOperationsRequest(map[string]interface{}{
		"binary_image":  "quay.io/acme/opm:latest",
		"from_index":    "quay.io/acme/index:v4.19",
		"fbc_fragments": []interface{}{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fbc_fragments")
}

func TestParseAddDeprecationsRequiresMatchingLengths(t *testing.T) {
	_, err := ParseAddDeprecationsRequest(map[string]interface{}{
		"binary_image":        "quay.io/acme/opm:latest",
		"from_index":          "quay.io/acme/index:v4.19",
		"operators":           []interface{}{"a", "b"},
		"deprecation_schemas": []interface{}{"schema-a"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same length")
}

func TestParseMergeIndexImageRequiresRequiredFields(t *testing.T) {
	_, err := ParseMergeIndexImageRequest(map[string]interface{}{
		"source_from_index": "quay.io/acme/src:v4.19",
	}, UserPrivileges{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target_index")
}

func TestValidateStateNameRejectsUnknown(t *testing.T) {
	err := ValidateStateName("bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "complete, failed, in_progress")
}

func TestValidateBatchIDRejectsNonPositive(t *testing.T) {
	err := ValidateBatchID(0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "positive integer")
}
