// Package resolver drives the external recursive resolver's control
// channel: rndc for reload/reconfig/flush and named-checkconf for syntax
// verification. The binaries are substitutable through configuration.
package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/dnsweaver/dnsweaver/internal/apperr"
)

// Control is the capability set the projection engine needs from the
// resolver. Tests substitute a fake.
type Control interface {
	Reload(ctx context.Context) error
	Reconfig(ctx context.Context) error
	Flush(ctx context.Context) error
	// CheckConf parses the configuration at confPath and returns the
	// resolver's diagnostic on rejection.
	CheckConf(ctx context.Context, confPath string) error
}

// RNDC shells out to the BIND control tools.
type RNDC struct {
	rndcPath  string
	checkPath string
	logger    *zap.Logger
}

func NewRNDC(rndcPath, checkPath string, logger *zap.Logger) *RNDC {
	return &RNDC{rndcPath: rndcPath, checkPath: checkPath, logger: logger}
}

func (r *RNDC) Reload(ctx context.Context) error   { return r.run(ctx, "reload") }
func (r *RNDC) Reconfig(ctx context.Context) error { return r.run(ctx, "reconfig") }
func (r *RNDC) Flush(ctx context.Context) error    { return r.run(ctx, "flush") }

func (r *RNDC) run(ctx context.Context, verb string) error {
	cmd := exec.CommandContext(ctx, r.rndcPath, verb)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		r.logger.Debug("rndc ok", zap.String("verb", verb))
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CodeTimeout, fmt.Sprintf("rndc %s timed out", verb), err)
	}
	return apperr.Wrap(apperr.CodeResolverUnavailable,
		fmt.Sprintf("rndc %s failed: %s", verb, strings.TrimSpace(out.String())), err)
}

// CheckConf runs named-checkconf against confPath. A non-zero exit means
// the resolver rejected the configuration; the diagnostic is preserved.
func (r *RNDC) CheckConf(ctx context.Context, confPath string) error {
	cmd := exec.CommandContext(ctx, r.checkPath, confPath)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CodeTimeout, "named-checkconf timed out", err)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return apperr.Wrap(apperr.CodeResolverRejectedConf,
			strings.TrimSpace(out.String()), err)
	}
	return apperr.Wrap(apperr.CodeResolverUnavailable, "named-checkconf could not run", err)
}
