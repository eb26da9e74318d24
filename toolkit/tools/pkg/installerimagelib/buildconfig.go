// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/installerimage/installer-image-tools/toolkit/tools/installerimageapi"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/kernelversion"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/osinfo"
)

const (
	defaultTempDirName = "installerimage"
	initrdImageName    = "initrd.img"
)

// BuildOptions are command-line values that override the config file.
type BuildOptions struct {
	TreeDir       string
	DestDir       string
	OutputDir     string
	KernelVersion string
	Architecture  string
}

type ProductInfo struct {
	Name    string
	Version string
	BugUrl  string
}

// BuildConfig is the fully resolved, read-only configuration of one build.
// Values discovered while building are kept in BuildSession instead.
type BuildConfig struct {
	TreeDir   string
	DestDir   string
	TempDir   string
	ConfigDir string
	DataDir   string
	OutputDir string

	// KernelVersion is empty when it must be detected from the tree.
	KernelVersion string
	Architecture  string
	LibDir        string

	Product ProductInfo
	BuildId string

	ModuleCompression  installerimageapi.ModuleCompressionType
	AmbiguousNames     installerimageapi.AmbiguousNamePolicy
	ExternalToolPolicy installerimageapi.ExternalToolPolicy
	ToolPaths          map[string]string
	ArchiveFormat      installerimageapi.ArchiveFormatType
	InstallPackages    bool
	PackageManager     installerimageapi.PackageManagerType
}

// BuildSession holds the values discovered during a build.
type BuildSession struct {
	Config        *BuildConfig
	StartTime     time.Time
	KernelVersion string
	ImageId       string
	OutputPath    string
	ModuleCount   int
}

func NewBuildConfigWithConfigFile(configFile string, options BuildOptions) (*BuildConfig, error) {
	var config installerimageapi.Config
	err := installerimageapi.UnmarshalAndValidateYamlFile(configFile, &config)
	if err != nil {
		return nil, NewBuildErrorWithCause(ErrTypeConfig, fmt.Sprintf("failed to load config file (%s)", configFile), err)
	}

	absConfigFile, err := filepath.Abs(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path of config file (%s):\n%w", configFile, err)
	}

	return NewBuildConfig(&config, filepath.Dir(absConfigFile), options)
}

// NewBuildConfig resolves a validated config. Relative paths are resolved against baseConfigPath.
func NewBuildConfig(config *installerimageapi.Config, baseConfigPath string, options BuildOptions,
) (*BuildConfig, error) {
	bc := &BuildConfig{
		TreeDir:            resolvePath(baseConfigPath, firstNonEmpty(options.TreeDir, config.Paths.TreeDir)),
		DestDir:            resolvePath(baseConfigPath, firstNonEmpty(options.DestDir, config.Paths.DestDir)),
		TempDir:            resolvePath(baseConfigPath, config.Paths.TempDir),
		ConfigDir:          resolvePath(baseConfigPath, config.Paths.ConfigDir),
		DataDir:            resolvePath(baseConfigPath, config.Paths.DataDir),
		OutputDir:          resolvePath(baseConfigPath, firstNonEmpty(options.OutputDir, config.Paths.OutputDir)),
		KernelVersion:      firstNonEmpty(options.KernelVersion, config.KernelVersion),
		Architecture:       firstNonEmpty(options.Architecture, config.Architecture),
		LibDir:             config.LibDir,
		BuildId:            config.Product.BuildId,
		ModuleCompression:  config.Modules.Compression,
		AmbiguousNames:     config.Modules.AmbiguousNames,
		ExternalToolPolicy: config.ExternalTools.Policy,
		ToolPaths:          config.ExternalTools.Paths,
		ArchiveFormat:      config.Archive.Format,
		InstallPackages:    config.Packages.Install,
		PackageManager:     config.Packages.PackageManager,
		Product: ProductInfo{
			Name:    config.Product.Name,
			Version: config.Product.Version,
			BugUrl:  config.Product.BugUrl,
		},
	}

	switch {
	case bc.TreeDir == "":
		return nil, NewBuildError(ErrTypeConfig, "the tree directory must be specified, either via '--tree-dir' or 'paths.treeDir'")
	case bc.DestDir == "":
		return nil, NewBuildError(ErrTypeConfig, "the destination directory must be specified, either via '--dest-dir' or 'paths.destDir'")
	case bc.OutputDir == "":
		return nil, NewBuildError(ErrTypeConfig, "the output directory must be specified, either via '--output-dir' or 'paths.outputDir'")
	case bc.TreeDir == bc.DestDir:
		return nil, NewBuildError(ErrTypeConfig, fmt.Sprintf("the tree and destination directories must differ (%s)", bc.TreeDir))
	case isPathWithin(bc.TreeDir, bc.DestDir) || isPathWithin(bc.DestDir, bc.TreeDir):
		return nil, NewBuildError(ErrTypeConfig,
			fmt.Sprintf("the tree (%s) and destination (%s) directories must not contain each other", bc.TreeDir, bc.DestDir))
	case bc.OutputDir == bc.DestDir || isPathWithin(bc.OutputDir, bc.DestDir):
		return nil, NewBuildError(ErrTypeConfig,
			fmt.Sprintf("the output directory (%s) must not be inside the destination directory (%s)", bc.OutputDir, bc.DestDir))
	}

	if bc.ConfigDir == "" {
		bc.ConfigDir = baseConfigPath
	}
	if bc.DataDir == "" {
		bc.DataDir = bc.ConfigDir
	}
	if bc.TempDir == "" {
		bc.TempDir = filepath.Join(os.TempDir(), defaultTempDirName)
	}

	if bc.Architecture == "" {
		arch, err := kernelversion.GetBuildHostArchitecture()
		if err != nil {
			return nil, err
		}
		bc.Architecture = arch
	}
	if bc.LibDir == "" {
		bc.LibDir = defaultLibDir(bc.Architecture)
	}

	if bc.BuildId == "" {
		bc.BuildId = uuid.NewString()
	}

	if bc.Product.Name == "" || bc.Product.Version == "" {
		release, err := osinfo.ReadOsRelease(bc.TreeDir)
		if err != nil {
			logger.Log.Warnf("Product name or version not set and the tree has no usable os-release:\n%v", err)
		} else {
			bc.Product.Name = firstNonEmpty(bc.Product.Name, release.Name)
			bc.Product.Version = firstNonEmpty(bc.Product.Version, release.VersionId)
		}
	}

	if bc.ModuleCompression == installerimageapi.ModuleCompressionTypeDefault {
		bc.ModuleCompression = installerimageapi.ModuleCompressionTypeGzip
	}
	if bc.AmbiguousNames == installerimageapi.AmbiguousNamePolicyDefault {
		bc.AmbiguousNames = installerimageapi.AmbiguousNamePolicyWarn
	}
	if bc.ExternalToolPolicy == installerimageapi.ExternalToolPolicyDefault {
		bc.ExternalToolPolicy = installerimageapi.ExternalToolPolicyStrict
	}
	if bc.ArchiveFormat == installerimageapi.ArchiveFormatTypeDefault {
		bc.ArchiveFormat = installerimageapi.ArchiveFormatTypeCpioGzip
	}
	if bc.PackageManager == installerimageapi.PackageManagerTypeDefault {
		bc.PackageManager = installerimageapi.PackageManagerTypeDnf
	}

	return bc, nil
}

// ModulesDir is the module directory of a kernel inside the source tree.
func (c *BuildConfig) ModulesDir(kernelVersion string) string {
	return filepath.Join(c.TreeDir, "lib", "modules", kernelVersion)
}

func (c *BuildConfig) OutputImagePath() string {
	return filepath.Join(c.OutputDir, initrdImageName)
}

func newBuildSession(config *BuildConfig, startTime time.Time) *BuildSession {
	return &BuildSession{
		Config:    config,
		StartTime: startTime,
		ImageId:   FormatImageId(startTime, config.Architecture),
	}
}

// detectKernelVersion fills in the session's kernel version, preferring the configured one.
func (s *BuildSession) detectKernelVersion() error {
	if s.Config.KernelVersion != "" {
		s.KernelVersion = s.Config.KernelVersion
		return nil
	}

	version, err := kernelversion.DetectKernelVersion(s.Config.TreeDir)
	if err != nil {
		return NewBuildErrorWithCause(ErrTypeConfig, "failed to detect kernel version", err)
	}

	s.KernelVersion = version.Release
	logger.Log.Infof("Detected kernel version (%s)", s.KernelVersion)
	return nil
}

func defaultLibDir(arch string) string {
	switch arch {
	case "x86_64", "aarch64", "ppc64", "ppc64le", "s390x", "sparc64":
		return "lib64"

	default:
		return "lib"
	}
}

func resolvePath(baseDir string, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(baseDir, path)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
