package validation

import (
	"context"
	"fmt"

	"github.com/devrev/pairdb/transfer/internal/errors"
	"github.com/devrev/pairdb/transfer/internal/storage/legacy"
	"go.uber.org/zap"
)

// VersionPolicy selects how per-file schema versions gate a dataset
type VersionPolicy string

const (
	// VersionPolicyAll requires every db file to carry the minimum version
	VersionPolicyAll VersionPolicy = "all"
	// VersionPolicyMax requires only the newest db file to carry it, as
	// 1.8 backups where only the master file is stamped
	VersionPolicyMax VersionPolicy = "max"
)

// ParseVersionPolicy parses a policy name; "" selects VersionPolicyAll
func ParseVersionPolicy(s string) (VersionPolicy, error) {
	switch VersionPolicy(s) {
	case "", VersionPolicyAll:
		return VersionPolicyAll, nil
	case VersionPolicyMax:
		return VersionPolicyMax, nil
	default:
		return "", errors.InvalidArgument(fmt.Sprintf("unknown version policy %q", s), nil)
	}
}

// FormatValidator checks the on-disk format version of a legacy dataset
type FormatValidator struct {
	minVersion int
	policy     VersionPolicy
	logger     *zap.Logger
}

// NewFormatValidator creates a validator with the 1.8 minimum version
func NewFormatValidator(policy VersionPolicy, logger *zap.Logger) *FormatValidator {
	return NewFormatValidatorWithMinVersion(legacy.MinSchemaVersion, policy, logger)
}

// NewFormatValidatorWithMinVersion creates a validator with a custom minimum version
func NewFormatValidatorWithMinVersion(minVersion int, policy VersionPolicy, logger *zap.Logger) *FormatValidator {
	if policy == "" {
		policy = VersionPolicyAll
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FormatValidator{
		minVersion: minVersion,
		policy:     policy,
		logger:     logger,
	}
}

// MinVersion returns the minimum accepted schema version
func (v *FormatValidator) MinVersion() int {
	return v.minVersion
}

// Validate reads the version stamp of every db file of the dataset at basePath
// and rejects the dataset as a whole when the stamps are too old.
func (v *FormatValidator) Validate(ctx context.Context, basePath string) (map[string]int, error) {
	files, err := legacy.DataFiles(basePath)
	if err != nil {
		return nil, err
	}

	versions := make(map[string]int, len(files))
	for _, file := range files {
		version, err := legacy.SchemaVersion(ctx, file)
		if err != nil {
			return nil, err
		}
		versions[file] = version
	}

	v.logger.Debug("Db file versions",
		zap.String("path", basePath),
		zap.Any("versions", versions))

	if !v.accepts(versions) {
		return versions, errors.VersionTooOld(basePath, v.minVersion, versions)
	}
	return versions, nil
}

func (v *FormatValidator) accepts(versions map[string]int) bool {
	maxVersion, minVersion := -1, -1
	for _, version := range versions {
		if maxVersion < 0 || version > maxVersion {
			maxVersion = version
		}
		if minVersion < 0 || version < minVersion {
			minVersion = version
		}
	}

	switch v.policy {
	case VersionPolicyMax:
		return maxVersion >= v.minVersion
	default:
		return minVersion >= v.minVersion
	}
}
