// Package errors re-exports github.com/cockroachdb/errors and defines the
// error kinds shared by repositories, services and the HTTP layer.
//
// Kinds are attached with Mark and tested with Is:
//
//	return errors.Mark(errors.Newf("job %s not found", id), errors.ErrNotFound)
//
//	if errors.Is(err, errors.ErrNotFound) { ... }
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	WithHint     = crdb.WithHint
	WithDetail   = crdb.WithDetail
	Mark         = crdb.Mark
)

// Error inspection
var (
	Is          = crdb.Is
	IsAny       = crdb.IsAny
	As          = crdb.As
	Unwrap      = crdb.Unwrap
	UnwrapAll   = crdb.UnwrapAll
	GetAllHints = crdb.GetAllHints
)
