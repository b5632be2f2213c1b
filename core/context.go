package core

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"github.com/sciexp/flytezen/schema"
)

const (
	suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffixLength   = 3
)

// ContextDefaults carries the mode-independent fields of an execution context.
type ContextDefaults struct {
	Project string
	Domain  string
	Wait    bool
	// Suffix overrides the random version suffix source (tests).
	Suffix func() (string, error)
}

// ResolveContext maps a mode onto its execution context preset.
//
//	local: no image, version <identity>-local-<rand3>
//	dev:   image:<branch>, version <identity>-dev-<rand3>
//	prod:  image:<revision>, version <identity>
func ResolveContext(mode schema.Mode, id schema.VersionIdentity, baseImage string, defaults ContextDefaults) (schema.ExecutionContext, error) {
	suffix := defaults.Suffix
	if suffix == nil {
		suffix = RandomSuffix
	}
	out := schema.ExecutionContext{
		Mode:    mode,
		Project: defaults.Project,
		Domain:  defaults.Domain,
		Wait:    defaults.Wait,
	}
	switch mode {
	case schema.ModeLocal:
		s, err := suffix()
		if err != nil {
			return schema.ExecutionContext{}, NewError(ErrorUnknown, "resolve execution context", err)
		}
		out.Version = id.String() + "-local-" + s
	case schema.ModeDev:
		s, err := suffix()
		if err != nil {
			return schema.ExecutionContext{}, NewError(ErrorUnknown, "resolve execution context", err)
		}
		out.Image = baseImage
		out.Tag = id.Branch
		out.Version = id.String() + "-dev-" + s
	case schema.ModeProd:
		out.Image = baseImage
		out.Tag = id.Revision
		out.Version = id.String()
	default:
		return schema.ExecutionContext{}, &Error{
			Kind:    ErrorInvalidMode,
			Op:      "resolve execution context",
			Message: "invalid mode " + string(mode) + "; expected one of local, dev, prod",
			Err:     schema.ErrInvalidMode,
		}
	}
	return out, nil
}

// RandomSuffix returns a 3-character suffix drawn uniformly from [a-z0-9].
func RandomSuffix() (string, error) {
	return randomString(rand.Reader, suffixAlphabet, suffixLength)
}

func randomString(src io.Reader, alphabet string, length int) (string, error) {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(src, max)
		if err != nil {
			return "", fmt.Errorf("random version suffix: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}
