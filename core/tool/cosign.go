package tool

import (
	"context"
	"fmt"
	"strings"

	coreerrors "github.com/OrygnsCode/ci-evidence-pack/core/errors"
)

const CosignBinary = "cosign"

type Signer interface {
	Sign(ctx context.Context, blobPath, sigPath, certPath string) error
}

type VerifyRequest struct {
	BlobPath string
	SigPath  string
	CertPath string
	Identity string
	Issuer   string
}

type SignatureVerifier interface {
	Verify(ctx context.Context, request VerifyRequest) (bool, error)
}

// Cosign signs and verifies blobs with keyless cosign.
type Cosign struct {
	Runner Runner
}

func (c Cosign) Sign(ctx context.Context, blobPath, sigPath, certPath string) error {
	if err := c.require(); err != nil {
		return err
	}
	output, err := c.Runner.Run(ctx, Command{
		Name: CosignBinary,
		Args: []string{
			"sign-blob",
			"--yes",
			"--output-signature", sigPath,
			"--output-certificate", certPath,
			blobPath,
		},
	})
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "cosign_sign_failed", "check cosign OIDC configuration", true)
	}
	if output.ExitCode != 0 {
		return coreerrors.Newf(
			coreerrors.CategoryInternalFailure,
			"cosign_sign_failed",
			"check cosign OIDC configuration",
			"cosign sign-blob exited %d: %s", output.ExitCode, strings.TrimSpace(output.Stderr),
		)
	}
	return nil
}

// Verify returns false with a nil error when cosign rejects the signature.
func (c Cosign) Verify(ctx context.Context, request VerifyRequest) (bool, error) {
	if err := c.require(); err != nil {
		return false, err
	}
	args := []string{
		"verify-blob",
		"--certificate", request.CertPath,
		"--signature", request.SigPath,
	}
	if identity := strings.TrimSpace(request.Identity); identity != "" {
		args = append(args, "--certificate-identity", identity)
	}
	if issuer := strings.TrimSpace(request.Issuer); issuer != "" {
		args = append(args, "--certificate-oidc-issuer", issuer)
	}
	args = append(args, request.BlobPath)

	output, err := c.Runner.Run(ctx, Command{Name: CosignBinary, Args: args})
	if err != nil {
		return false, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "cosign_verify_failed", "rerun with --debug to see cosign output", true)
	}
	return output.ExitCode == 0, nil
}

func (c Cosign) require() error {
	if c.Runner == nil {
		return fmt.Errorf("cosign runner not configured")
	}
	if _, err := c.Runner.LookPath(CosignBinary); err != nil {
		return coreerrors.Wrap(err, coreerrors.CategoryDependencyMissing, "cosign_missing", "install cosign and ensure it is on PATH", false)
	}
	return nil
}
