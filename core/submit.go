package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"pkt.systems/pslog"

	"github.com/sciexp/flytezen/internal/logx"
	"github.com/sciexp/flytezen/schema"
)

// DefaultDestinationDir is where fast-packaged sources are unpacked in the container.
const DefaultDestinationDir = "/root"

// Strategy is one of LocalStrategy, DevStrategy or ProdStrategy.
type Strategy interface {
	Mode() schema.Mode
	strategy()
}

// LocalStrategy calls the entity in-process.
type LocalStrategy struct{}

// DevStrategy packages the local source tree and runs it on an existing image.
type DevStrategy struct {
	PackagePath    string
	DestinationDir string
	Packager       Packager
	Uploader       Uploader
}

// ProdStrategy registers against a prebuilt image for the current commit.
type ProdStrategy struct{}

func (LocalStrategy) Mode() schema.Mode { return schema.ModeLocal }
func (DevStrategy) Mode() schema.Mode { return schema.ModeDev }
func (ProdStrategy) Mode() schema.Mode { return schema.ModeProd }

func (LocalStrategy) strategy() {}
func (DevStrategy) strategy() {}
func (ProdStrategy) strategy() {}

// Submission is the result of Submit. Local runs carry Outputs; remote runs
// carry a Handle.
type Submission struct {
	Mode       schema.Mode
	Version    string
	Outputs    schema.Outputs
	Handle     *schema.ExecutionHandle
	ConsoleURL string
}

// Remote reports whether the submission produced a backend execution.
func (s Submission) Remote() bool {
	return s.Handle != nil
}

// Submitter runs entities according to a strategy.
type Submitter struct {
	Backend        Backend
	PackagePath    string
	DestinationDir string
	Packager       Packager
	Uploader       Uploader
}

// StrategyFor selects the strategy variant for the context's mode.
func (s *Submitter) StrategyFor(ec schema.ExecutionContext) (Strategy, error) {
	switch ec.Mode {
	case schema.ModeLocal:
		return LocalStrategy{}, nil
	case schema.ModeDev:
		if s.Packager == nil || s.Uploader == nil {
			return nil, NewError(ErrorConfig, "select strategy", errNoPackager)
		}
		dest := s.DestinationDir
		if dest == "" {
			dest = DefaultDestinationDir
		}
		return DevStrategy{
			PackagePath:    s.PackagePath,
			DestinationDir: dest,
			Packager:       s.Packager,
			Uploader:       s.Uploader,
		}, nil
	case schema.ModeProd:
		return ProdStrategy{}, nil
	default:
		return nil, &Error{
			Kind:    ErrorInvalidMode,
			Op:      "select strategy",
			Message: fmt.Sprintf("invalid mode %q; expected one of local, dev, prod", ec.Mode),
			Err:     schema.ErrInvalidMode,
		}
	}
}

// Submit runs entity per the execution context. Failures are not retried.
func (s *Submitter) Submit(ctx context.Context, ec schema.ExecutionContext, entity Entity, inputs schema.Inputs) (Submission, error) {
	if entity == nil {
		return Submission{}, NewError(ErrorConfig, "submit", errNoEntity)
	}
	strategy, err := s.StrategyFor(ec)
	if err != nil {
		return Submission{}, err
	}
	ref := entity.Ref()
	ctx = logx.ContextWithLogger(ctx, logx.WithEntity(logx.WithVersion(pslog.Ctx(ctx), ec.Version), ref))

	switch st := strategy.(type) {
	case LocalStrategy:
		return s.runLocal(ctx, ec, entity, inputs)
	case DevStrategy:
		settings, err := s.stageSources(ctx, ec, st)
		if err != nil {
			return Submission{}, err
		}
		return s.registerAndSubmit(ctx, ec, ref, inputs, settings)
	case ProdStrategy:
		pslog.Ctx(ctx).Info("registering entity", "entity", ref.QualifiedName(), "image", ec.ImageRef())
		return s.registerAndSubmit(ctx, ec, ref, inputs, schema.RegistrationSettings{Image: ec.ImageRef()})
	default:
		panic(fmt.Sprintf("submit: unhandled strategy %T", strategy))
	}
}

func (s *Submitter) runLocal(ctx context.Context, ec schema.ExecutionContext, entity Entity, inputs schema.Inputs) (Submission, error) {
	log := pslog.Ctx(ctx)
	log.Info("local execution start")
	outputs, err := entity.Call(ctx, inputs)
	if err != nil {
		log.Warn("local execution failed", "err", err)
		return Submission{}, NewError(ErrorExecutionFailure, "local execution", err)
	}
	log.Info("local execution finished", "outputs", len(outputs))
	return Submission{Mode: ec.Mode, Version: ec.Version, Outputs: outputs}, nil
}

// stageSources always repackages; the bundle reflects the tree as it is now.
func (s *Submitter) stageSources(ctx context.Context, ec schema.ExecutionContext, st DevStrategy) (schema.RegistrationSettings, error) {
	log := pslog.Ctx(ctx)
	log.Warn("dev mode is intended for development only; use prod mode for production or CI runs")
	if s.Backend == nil {
		return schema.RegistrationSettings{}, NewError(ErrorConfig, "stage sources", errNoBackend)
	}

	tmpDir, err := os.MkdirTemp("", "flytezen-fast-*")
	if err != nil {
		return schema.RegistrationSettings{}, NewError(ErrorSubmission, "stage sources", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	log.Debug("packaging sources", "package_path", st.PackagePath, "tmp_dir", tmpDir)

	bundle, err := st.Packager.Package(ctx, st.PackagePath, tmpDir)
	if err != nil {
		return schema.RegistrationSettings{}, NewError(ErrorSubmission, "package sources", err)
	}
	loc, err := s.Backend.CreateUploadLocation(ctx, ec.Project, ec.Domain, bundle.Digest, filepath.Base(bundle.Path))
	if err != nil {
		return schema.RegistrationSettings{}, NewError(ErrorSubmission, "create upload location", err)
	}
	if err := st.Uploader.Upload(ctx, bundle, loc); err != nil {
		return schema.RegistrationSettings{}, NewError(ErrorSubmission, "upload sources", err)
	}
	log.Info("sources uploaded", "location", loc.NativeURL, "digest", bundle.Digest, "bytes", bundle.Size)

	return schema.RegistrationSettings{
		Image: ec.ImageRef(),
		FastPackage: &schema.FastPackageSettings{
			DestinationDir:       st.DestinationDir,
			DistributionLocation: loc.NativeURL,
		},
	}, nil
}

func (s *Submitter) registerAndSubmit(ctx context.Context, ec schema.ExecutionContext, ref schema.EntityRef, inputs schema.Inputs, settings schema.RegistrationSettings) (Submission, error) {
	log := pslog.Ctx(ctx)
	if s.Backend == nil {
		return Submission{}, NewError(ErrorConfig, "submit", errNoBackend)
	}
	if err := s.Backend.Register(ctx, ref, settings, ec.Version); err != nil {
		log.Warn("registration failed", "err", err)
		return Submission{}, NewError(ErrorSubmission, "register entity", err)
	}
	handle, err := s.Backend.Submit(ctx, schema.SubmitRequest{
		Entity:     ref,
		Inputs:     inputs,
		Version:    ec.Version,
		NamePrefix: ec.Version,
		Project:    ec.Project,
		Domain:     ec.Domain,
		Wait:       false,
	})
	if err != nil {
		log.Warn("submission failed", "err", err)
		return Submission{}, NewError(ErrorSubmission, "submit execution", err)
	}
	url := s.Backend.ConsoleURL(handle)
	log.Info("execution submitted", "execution", handle.String(), "url", url)
	return Submission{
		Mode:       ec.Mode,
		Version:    ec.Version,
		Handle:     &handle,
		ConsoleURL: url,
	}, nil
}
