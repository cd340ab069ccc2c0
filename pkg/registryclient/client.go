// Package registryclient implements the artifact transport (spec section
// 4.2): pull/push/digest/copy of the index.db OCI artifact plus the
// deterministic pullspec mapping used by the cache-sync policy. Transfers
// go through google/go-containerregistry; each operation is wrapped in a
// circuit breaker so a flapping registry fails fast instead of hanging
// every worker on it.
package registryclient

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/sony/gobreaker"

	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
)

// Auth carries optional registry credentials; a zero value means
// anonymous access.
type Auth struct {
	Username string
	Password string
}

// Client implements the C2 operations from spec section 4.2.
type Client struct {
	breaker *gobreaker.CircuitBreaker
}

// New constructs a Client with a circuit breaker tuned to trip after 5
// consecutive failures and probe again after 30 seconds, consistent with
// the "backend fault degrades, never hangs forever" posture used
// throughout the component design.
func New() *Client {
	st := gobreaker.Settings{
		Name:        "registryclient",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{breaker: gobreaker.NewCircuitBreaker(st)}
}

func (c *Client) do(fn func() (interface{}, error)) (interface{}, error) {
	result, err := c.breaker.Execute(fn)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func craneOptions(auth Auth) []crane.Option {
	if auth.Username == "" {
		return nil
	}
	return []crane.Option{crane.WithAuth(&authn.Basic{Username: auth.Username, Password: auth.Password})}
}

// Pull implements C2 pull: creates a fresh subdirectory under baseDir,
// downloads the artifact, and returns its absolute path. On any failure
// the subdirectory is removed.
func (c *Client) Pull(ctx context.Context, ref, baseDir string, auth Auth) (string, error) {
	dir, err := os.MkdirTemp(baseDir, "iib-artifact-")
	if err != nil {
		return "", iiberrors.Build(iiberrors.PhaseFetchIndexDB, "failed to create artifact workspace", err)
	}

	_, err = c.do(func() (interface{}, error) {
		img, err := crane.Pull(ref, withContext(ctx, auth)...)
		if err != nil {
			return nil, err
		}
		return nil, writeSingleLayerArtifact(img, dir)
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", iiberrors.Build(iiberrors.PhaseFetchIndexDB, fmt.Sprintf("failed to pull artifact %s", ref), err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", iiberrors.Build(iiberrors.PhaseFetchIndexDB, "failed to resolve artifact directory", err)
	}
	return abs, nil
}

func writeSingleLayerArtifact(img v1.Image, dir string) error {
	layers, err := img.Layers()
	if err != nil {
		return err
	}
	if len(layers) == 0 {
		return fmt.Errorf("artifact has no layers")
	}
	rc, err := layers[0].Uncompressed()
	if err != nil {
		return err
	}
	defer rc.Close()

	dst := filepath.Join(dir, "index.db")
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := rc.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			if rerr.Error() == "EOF" {
				break
			}
			return rerr
		}
	}
	return nil
}

// Push implements C2 push: uploads a single file artifact with the given
// media type and annotations. When localPath is absolute, the equivalent
// of ORAS's --disable-path-validation is implied (there is no local path
// validation in this transport either way; the parameter is accepted for
// call-site parity with the original tool invocation).
func (c *Client) Push(ctx context.Context, ref, localPath, mediaType string, annotations map[string]string, auth Auth) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return iiberrors.Build(iiberrors.PhasePushIndexDB, "failed to read artifact for push", err)
	}

	layer := static.NewLayer(data, types.MediaType(mediaType))

	img, err := mutate.AppendLayers(empty.Image, layer)
	if err != nil {
		return iiberrors.Build(iiberrors.PhasePushIndexDB, "failed to assemble artifact image", err)
	}
	if len(annotations) > 0 {
		img = mutate.Annotations(img, annotations).(v1.Image)
	}

	_, err = c.do(func() (interface{}, error) {
		return nil, crane.Push(img, ref, withContext(ctx, auth)...)
	})
	if err != nil {
		return iiberrors.Build(iiberrors.PhasePushIndexDB, fmt.Sprintf("failed to push artifact to %s", ref), err)
	}
	return nil
}

// Digest implements C2 digest: resolves the current manifest digest.
func (c *Client) Digest(ctx context.Context, ref string, auth Auth) (string, error) {
	result, err := c.do(func() (interface{}, error) {
		return crane.Digest(ref, withContext(ctx, auth)...)
	})
	if err != nil {
		return "", iiberrors.Build(iiberrors.PhasePushIndexDB, fmt.Sprintf("failed to resolve digest for %s", ref), err)
	}
	return result.(string), nil
}

// Copy implements C2 copy: a server-to-server copy with no local download.
func (c *Client) Copy(ctx context.Context, srcRefWithDigest, dstRef string, auth Auth) error {
	_, err := c.do(func() (interface{}, error) {
		return nil, crane.Copy(srcRefWithDigest, dstRef, withContext(ctx, auth)...)
	})
	if err != nil {
		return iiberrors.Build(iiberrors.PhaseReplicateImage, fmt.Sprintf("failed to copy %s to %s", srcRefWithDigest, dstRef), err)
	}
	return nil
}

func withContext(ctx context.Context, auth Auth) []crane.Option {
	opts := []crane.Option{crane.WithContext(ctx)}
	opts = append(opts, craneOptions(auth)...)
	return opts
}

// renderTagTemplate renders iib_index_db_artifact_tag_template, which has
// the form "{image_name}-{tag}" (spec section 4.2, pullspec).
func renderTagTemplate(template, imageName, tag string) string {
	r := strings.NewReplacer("{image_name}", imageName, "{tag}", tag)
	return r.Replace(template)
}

// Pullspec implements C2 pullspec: the deterministic mapping from a
// from_index reference to the cache artifact's own reference.
func Pullspec(registryTemplate, tagTemplate, registry, imageName, fromIndex string) (string, error) {
	ref, err := name.ParseReference(fromIndex)
	if err != nil {
		return "", iiberrors.Validationf("invalid from_index reference %q: %v", fromIndex, err)
	}
	tag := ref.Identifier()
	artifactTag := renderTagTemplate(tagTemplate, imageName, tag)
	r := strings.NewReplacer("{registry}", registry, "{image_name}", imageName)
	repo := r.Replace(registryTemplate)
	return fmt.Sprintf("%s:%s", repo, artifactTag), nil
}

