package builder

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/sirupsen/logrus"

	"github.com/release-engineering/iib-sub001/pkg/dispatcher"
	"github.com/release-engineering/iib-sub001/pkg/gitcatalog"
	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
	"github.com/release-engineering/iib-sub001/pkg/registryclient"
)

// buildContext carries one request's working state through the phase
// sequence (spec section 4.8). A fresh one is created per Run call and
// discarded on cleanup; nothing here outlives a single build.
type buildContext struct {
	task   dispatcher.Task
	logger *logrus.Entry

	workDir     string
	catalogDir  string
	artifactDir string

	// repoURL/imageName/branch are derived from the index pullspec that
	// anchors this request (from_index for add/rm/fbc/deprecations,
	// target_index for merge-index-image).
	repoURL   string
	imageName string
	branch    string

	fromIndex          string
	binaryImage        string
	bundles            []string
	operators          []string
	arches             []string
	buildTags          []string
	organization       string
	distributionScope  string
	graphUpdateMode    string
	fromBundleImage    string
	sourceFromIndex    string
	targetIndex        string
	fbcFragments       []string
	deprecationSchemas []string
	overwriteFromIndex bool
	auth               registryclient.Auth

	artifactRepo string
	indexDBPath  string

	mrDetails        *gitcatalog.MRDetails
	directCommitMade bool
	v4xRef           string
	v4xDigest        string
	v4xOverwritten   bool
	lastCommitSHA    string
	imageURL         string
}

func (bc *buildContext) cleanup() {
	if bc.workDir == "" {
		return
	}
	if err := os.RemoveAll(bc.workDir); err != nil {
		bc.logger.WithError(err).Warn("failed to clean up build workspace")
	}
}

// newBuildContext implements spec section 4.8 step 1: it extracts the
// arguments the dispatcher attached to task and creates a fresh temp
// workspace. The anchoring index pullspec's tag becomes the catalog
// branch; its repository path becomes the git/artifact coordinate.
func (b *Builder) newBuildContext(ctx context.Context, task dispatcher.Task, logger *logrus.Entry) (*buildContext, error) {
	args := task.RedactedArgs
	if args == nil {
		args = map[string]interface{}{}
	}

	bc := &buildContext{
		task:               task,
		logger:             logger,
		fromIndex:          getString(args, "from_index"),
		binaryImage:        getString(args, "binary_image"),
		bundles:            getStringSlice(args, "bundles"),
		operators:          getStringSlice(args, "operators"),
		arches:             getStringSlice(args, "add_arches"),
		buildTags:          getStringSlice(args, "build_tags"),
		organization:       getString(args, "organization"),
		distributionScope:  firstNonEmpty(getString(args, "distribution_scope"), "prod"),
		graphUpdateMode:    getString(args, "graph_update_mode"),
		fromBundleImage:    getString(args, "from_bundle_image"),
		sourceFromIndex:    getString(args, "source_from_index"),
		targetIndex:        getString(args, "target_index"),
		fbcFragments:       getStringSlice(args, "fbc_fragments"),
		deprecationSchemas: getStringSlice(args, "deprecation_schemas"),
		overwriteFromIndex: task.OverwriteFromIndex,
	}

	if username := task.Secrets["registry_username"]; username != "" {
		bc.auth = registryclient.Auth{Username: username, Password: task.Secrets["registry_password"]}
	}

	anchor := firstNonEmpty(bc.fromIndex, bc.targetIndex)

	workDir, err := os.MkdirTemp("", fmt.Sprintf("iib-build-%d-", task.RequestID))
	if err != nil {
		return nil, iiberrors.Build(iiberrors.PhasePrepareWorkspace, "failed to create build workspace", err)
	}
	bc.workDir = workDir
	bc.catalogDir = workDir + "/catalog"
	bc.artifactDir = workDir + "/artifact"
	if err := os.MkdirAll(bc.artifactDir, 0o755); err != nil {
		_ = os.RemoveAll(workDir)
		return nil, iiberrors.Build(iiberrors.PhasePrepareWorkspace, "failed to create artifact workspace", err)
	}

	if anchor != "" {
		ref, err := name.ParseReference(anchor)
		if err != nil {
			_ = os.RemoveAll(workDir)
			return nil, iiberrors.Build(iiberrors.PhasePrepareWorkspace, fmt.Sprintf("invalid index reference %q", anchor), err)
		}
		bc.branch = ref.Identifier()
		bc.repoURL = ref.Context().RepositoryStr()
		parts := strings.Split(bc.repoURL, "/")
		bc.imageName = parts[len(parts)-1]
	}

	return bc, nil
}
