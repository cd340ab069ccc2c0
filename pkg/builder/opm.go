package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/release-engineering/iib-sub001/pkg/api"
	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
)

// MutationRequest carries the per-request-type arguments the operator
// tooling needs for spec section 4.8 step 4. Exact flag shapes are out of
// core scope (spec section 4.8); this maps the request's fields onto the
// opm subcommand that produces the equivalent mutation.
type MutationRequest struct {
	ReqType            api.RequestType
	CatalogDir         string
	IndexDBPath        string
	BinaryImage        string
	Bundles            []string
	Operators          []string
	FromBundleImage    string
	SourceFromIndex    string
	TargetIndex        string
	FBCFragments       []string
	DeprecationSchemas []string
	GraphUpdateMode    string
}

// OpmTool is the subset of the operator-registry CLI the build driver
// depends on to mutate a catalog and to validate a single bundle
// (spec section 4.8 steps 4-5).
type OpmTool interface {
	ApplyMutation(ctx context.Context, req MutationRequest) error
	ValidateBundle(ctx context.Context, pullspec string) error
	Version(ctx context.Context) (string, error)
}

// ExecOpm shells out to the opm binary, following the os/exec pattern
// pkg/gitcatalog uses for the git CLI.
type ExecOpm struct {
	binary string
	logger *logrus.Entry
}

// NewExecOpm constructs an ExecOpm. An empty binary defaults to "opm" on
// PATH.
func NewExecOpm(binary string) *ExecOpm {
	if binary == "" {
		binary = "opm"
	}
	return &ExecOpm{binary: binary, logger: logrus.WithField("component", "opm")}
}

func (o *ExecOpm) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, o.binary, args...)
	o.logger.WithField("args", args).Debug("running opm")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("opm %s failed: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return out, nil
}

// mutationArgs maps a MutationRequest onto the opm subcommand+flags that
// perform the equivalent catalog mutation.
func mutationArgs(req MutationRequest) []string {
	switch req.ReqType {
	case api.TypeAdd:
		args := []string{"index", "add", "--generate", "--from-index", req.IndexDBPath, "--out-dockerfile", req.CatalogDir}
		if req.BinaryImage != "" {
			args = append(args, "--binary-image", req.BinaryImage)
		}
		if len(req.Bundles) > 0 {
			args = append(args, "--bundles", strings.Join(req.Bundles, ","))
		}
		return args
	case api.TypeRM:
		args := []string{"index", "rm", "--generate", "--from-index", req.IndexDBPath, "--out-dockerfile", req.CatalogDir}
		if len(req.Operators) > 0 {
			args = append(args, "--operators", strings.Join(req.Operators, ","))
		}
		return args
	case api.TypeMergeIndexImage:
		return []string{"index", "merge", "--generate", "--source-index", req.SourceFromIndex, "--target-index", req.TargetIndex, "--out-dockerfile", req.CatalogDir}
	case api.TypeCreateEmptyIndex:
		return []string{"index", "prune", "--generate", "--from-index", req.IndexDBPath, "--packages", "", "--out-dockerfile", req.CatalogDir}
	case api.TypeFBCOperations:
		args := []string{"alpha", "render-template", "basic", "--migrate-level", "bundle-object-to-csv-metadata", "--output", "yaml"}
		return append(args, req.FBCFragments...)
	case api.TypeAddDeprecations:
		args := []string{"index", "deprecatetruncate", "--generate", "--from-index", req.IndexDBPath, "--out-dockerfile", req.CatalogDir}
		return append(args, req.DeprecationSchemas...)
	default:
		return []string{"index", "add", "--generate", "--from-index", req.IndexDBPath, "--out-dockerfile", req.CatalogDir}
	}
}

// ApplyMutation implements spec section 4.8 step 4.
func (o *ExecOpm) ApplyMutation(ctx context.Context, req MutationRequest) error {
	if _, err := o.run(ctx, mutationArgs(req)...); err != nil {
		return iiberrors.Build(iiberrors.PhaseApplyMutation, fmt.Sprintf("opm mutation failed for a %s request", req.ReqType), err)
	}
	return nil
}

// ValidateBundle implements spec section 4.8 step 5: a single bundle
// pullspec's inspection, invoked once per bundle from a bounded worker
// pool.
func (o *ExecOpm) ValidateBundle(ctx context.Context, pullspec string) error {
	if _, err := o.run(ctx, "render", pullspec); err != nil {
		return iiberrors.Build(iiberrors.PhaseValidateBundles, fmt.Sprintf("failed to validate bundle %s", pullspec), err)
	}
	return nil
}

// Version reports the opm binary's version, recorded in build metadata
// (spec section 4.8 step 7).
func (o *ExecOpm) Version(ctx context.Context) (string, error) {
	out, err := o.run(ctx, "version")
	if err != nil {
		return "", iiberrors.Build(iiberrors.PhaseApplyMutation, "failed to read opm version", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// bundleRenderJSON is the subset of `opm render <pullspec> -o json`'s
// output the recursive-related-bundles resolver needs.
type bundleRenderJSON struct {
	Properties []struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"properties"`
}

// Inspect implements BundleInspector by rendering a single bundle image and
// reading its olm.package/olm.skips/olm.skipRange-shaped properties.
func (o *ExecOpm) Inspect(ctx context.Context, pullspec string) (BundleMetadata, error) {
	out, err := o.run(ctx, "render", pullspec, "-o", "json")
	if err != nil {
		return BundleMetadata{}, iiberrors.Build(iiberrors.PhaseValidateBundles, fmt.Sprintf("failed to render bundle %s", pullspec), err)
	}

	var rendered bundleRenderJSON
	if err := json.Unmarshal(out, &rendered); err != nil {
		return BundleMetadata{}, iiberrors.Build(iiberrors.PhaseValidateBundles, fmt.Sprintf("failed to parse rendered bundle %s", pullspec), err)
	}

	var meta BundleMetadata
	for _, prop := range rendered.Properties {
		switch prop.Type {
		case "olm.package":
			var pkg struct {
				Version string `json:"version"`
			}
			_ = json.Unmarshal(prop.Value, &pkg)
			meta.Version = pkg.Version
		case "olm.package.provided":
			var replaces struct {
				Replaces  string `json:"replaces"`
				SkipRange string `json:"skipRange"`
			}
			_ = json.Unmarshal(prop.Value, &replaces)
			if replaces.Replaces != "" {
				meta.Replaces = replaces.Replaces
			}
			if replaces.SkipRange != "" {
				meta.SkipRange = replaces.SkipRange
			}
		case "olm.skips":
			var skip string
			if err := json.Unmarshal(prop.Value, &skip); err == nil && skip != "" {
				meta.Skips = append(meta.Skips, skip)
			}
		}
	}
	return meta, nil
}
