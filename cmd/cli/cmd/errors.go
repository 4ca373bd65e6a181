package cmd

import (
	stderrors "errors"

	"flexplan/adapters/billing"
	"flexplan/core/pipeline"
	"flexplan/core/wizard"
	"flexplan/internal/errors"
)

// classify maps core errors to typed CLI errors, which pick the exit code
func classify(err error) error {
	if err == nil {
		return nil
	}
	var typed *errors.Error
	if stderrors.As(err, &typed) {
		return err
	}

	var stageErr *pipeline.StageError
	var validationErr *wizard.ValidationError
	var httpErr *billing.HTTPError
	switch {
	case stderrors.As(err, &stageErr):
		return errors.Stage(stageErr.Stage.String(), stageErr.Err)
	case stderrors.As(err, &validationErr),
		stderrors.Is(err, pipeline.ErrInvalidRequest),
		stderrors.Is(err, wizard.ErrSkipUnavailable),
		stderrors.Is(err, wizard.ErrWrongStep):
		return errors.Wrap(errors.TypeValidation, "plan rejected", err)
	case stderrors.As(err, &httpErr):
		return errors.Network("billing service", err)
	default:
		return err
	}
}
