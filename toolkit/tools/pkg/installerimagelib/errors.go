// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"errors"
	"fmt"

	"github.com/installerimage/installer-image-tools/toolkit/tools/installerimageapi"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
)

// Global error types for categorization
var (
	ErrTypeConfig              = errors.New("config")
	ErrTypeFilesystem          = errors.New("filesystem")
	ErrTypeExternalTool        = errors.New("external-tool")
	ErrTypeAmbiguousModuleName = errors.New("ambiguous-module-name")
	ErrTypePackageNotFound     = errors.New("package-not-found")
	ErrTypePackageManager      = errors.New("package-manager")
)

// BuildError carries the category of a build failure through any amount of wrapping.
type BuildError struct {
	Type    error
	Message string
	Cause   error
}

func (e *BuildError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s:\n%v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *BuildError) Unwrap() error {
	return e.Cause
}

func (e *BuildError) Is(target error) bool {
	return errors.Is(e.Type, target)
}

func NewBuildError(errorType error, message string) *BuildError {
	return &BuildError{
		Type:    errorType,
		Message: message,
	}
}

func NewBuildErrorWithCause(errorType error, message string, cause error) *BuildError {
	return &BuildError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// applyExternalToolPolicy turns the failure of an external tool into a build error when the
// policy is strict. Under the lenient policy the failure is logged and dropped.
func applyExternalToolPolicy(policy installerimageapi.ExternalToolPolicy, message string, err error) error {
	if err == nil {
		return nil
	}

	if policy == installerimageapi.ExternalToolPolicyLenient {
		logger.Log.Warnf("%s (ignored):\n%v", message, err)
		return nil
	}

	return NewBuildErrorWithCause(ErrTypeExternalTool, message, err)
}
