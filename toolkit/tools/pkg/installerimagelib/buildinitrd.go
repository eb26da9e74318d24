// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/installerimage/installer-image-tools/toolkit/tools/installerimageapi"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	OtelTracerName = "installerimagelib"
)

// Version specifies the version of the installer image tool.
// The value of this string is inserted during compilation via a linker flag.
var ToolVersion = ""

// InitrdBuilder assembles the installer initrd of a pre-populated tree.
type InitrdBuilder struct {
	Config        *BuildConfig
	Indexer       ModuleIndexer
	Introspector  LibraryIntrospector
	ModinfoReader ModinfoReader
	// Installer is only used when the config asks for package installation.
	Installer     PackageInstaller
	FirmwareRules []FirmwareRule
	Now           func() time.Time
}

// NewInitrdBuilder wires the external tools of a tool table into a builder.
func NewInitrdBuilder(config *BuildConfig, tools ToolTable) (*InitrdBuilder, error) {
	depmodPath, err := tools.Path(ToolDepmod)
	if err != nil {
		return nil, err
	}

	builder := &InitrdBuilder{
		Config:        config,
		Indexer:       DepmodIndexer{Path: depmodPath},
		Introspector:  ElfIntrospector{},
		ModinfoReader: ElfModinfoReader{},
		FirmwareRules: DefaultFirmwareRules,
		Now:           time.Now,
	}

	if config.InstallPackages {
		tool := ToolDnf
		if config.PackageManager == installerimageapi.PackageManagerTypeTdnf {
			tool = ToolTdnf
		}

		packageManagerPath, err := tools.Path(tool)
		if err != nil {
			return nil, err
		}
		builder.Installer = DnfInstaller{Path: packageManagerPath}
	}

	return builder, nil
}

// BuildInitrdWithConfigFile runs a whole build from a config file.
func BuildInitrdWithConfigFile(ctx context.Context, configFile string, options BuildOptions) (*BuildSession, error) {
	config, err := NewBuildConfigWithConfigFile(configFile, options)
	if err != nil {
		return nil, err
	}

	tools, err := ResolveToolTable(RequiredTools(config), config.ToolPaths)
	if err != nil {
		return nil, err
	}

	builder, err := NewInitrdBuilder(config, tools)
	if err != nil {
		return nil, err
	}

	return builder.Build(ctx)
}

// Build runs the pipeline: detect the kernel, optionally install packages, run the action
// template plus planned library copies, reduce the kernel modules and pack the archive.
func (b *InitrdBuilder) Build(ctx context.Context) (_ *BuildSession, err error) {
	ctx, span := otel.GetTracerProvider().Tracer(OtelTracerName).Start(ctx, "build_initrd")
	defer func() {
		telemetry.RecordSpanError(span, err)
		span.End()
	}()

	config := b.Config
	session := newBuildSession(config, b.Now())

	err = session.detectKernelVersion()
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.String("kernel_version", session.KernelVersion),
		attribute.String("architecture", config.Architecture),
		attribute.String("build_id", config.BuildId),
	)

	vars := TemplateVars{
		InstRoot:  config.TreeDir,
		Initrd:    config.DestDir,
		LibDir:    config.LibDir,
		BuildArch: config.Architecture,
		ConfDir:   config.ConfigDir,
		DataDir:   config.DataDir,
	}

	templateActions, err := ParseActionTemplateFile(ActionTemplatePath(config.ConfigDir, config.Architecture), vars)
	if err != nil {
		return nil, err
	}

	if config.InstallPackages {
		printStage("Installing needed packages")

		err = b.installPackages(ctx, templateActions)
		if err != nil {
			return nil, err
		}
	}

	printStage("Creating the initrd image")

	actions, err := b.planActions(ctx, templateActions)
	if err != nil {
		return nil, err
	}

	err = ExecuteActions(ctx, actions, ActionEnv{
		DestDir:            config.DestDir,
		ExternalToolPolicy: config.ExternalToolPolicy,
	})
	if err != nil {
		return nil, err
	}

	printStage("Selecting kernel modules")

	err = b.buildModules(ctx, session)
	if err != nil {
		return nil, err
	}

	printStage("Writing the initrd archive")

	session.OutputPath = config.OutputImagePath()
	stamp := BuildStamp{
		ImageId: session.ImageId,
		Product: config.Product.Name,
		Version: config.Product.Version,
		BugUrl:  config.Product.BugUrl,
	}

	err = ProduceArchive(ctx, config.DestDir, session.OutputPath, stamp, config.ArchiveFormat)
	if err != nil {
		return nil, err
	}

	printStage("DONE")
	logger.Log.Infof("Initrd image (%s) built with %d modules", session.OutputPath, session.ModuleCount)
	return session, nil
}

func (b *InitrdBuilder) installPackages(ctx context.Context, templateActions []Action) error {
	ctx, span := otel.GetTracerProvider().Tracer(OtelTracerName).Start(ctx, "install_packages")
	defer span.End()

	if b.Installer == nil {
		return NewBuildError(ErrTypeConfig, "package installation requested but no package manager is configured")
	}

	packages, err := SelectPackages(PackageListFiles(b.Config.ConfigDir, b.Config.Architecture), templateActions,
		b.Config.TreeDir)
	if err != nil {
		return err
	}

	span.SetAttributes(attribute.Int("package_count", len(packages)))
	return b.Installer.Install(ctx, b.Config.TreeDir, packages)
}

func (b *InitrdBuilder) planActions(ctx context.Context, templateActions []Action) ([]Action, error) {
	_, span := otel.GetTracerProvider().Tracer(OtelTracerName).Start(ctx, "plan_library_copies")
	defer span.End()

	planner := DependencyCopyPlanner{
		TreeDir:      b.Config.TreeDir,
		DestDir:      b.Config.DestDir,
		LibRoots:     LibraryRoots(b.Config.TreeDir, b.Config.LibDir),
		Introspector: b.Introspector,
	}

	copies, err := planner.Plan(templateActions)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("library_copies", len(copies)))

	actions := append([]Action(nil), templateActions...)
	for _, copyAction := range copies {
		actions = append(actions, copyAction)
	}
	return actions, nil
}

func (b *InitrdBuilder) buildModules(ctx context.Context, session *BuildSession) error {
	ctx, span := otel.GetTracerProvider().Tracer(OtelTracerName).Start(ctx, "select_modules")
	defer span.End()

	config := b.Config
	modulesDir := config.ModulesDir(session.KernelVersion)

	catalog, err := BuildModuleCatalog(modulesDir)
	if err != nil {
		return err
	}

	err = catalog.CheckAmbiguities(config.AmbiguousNames)
	if err != nil {
		return err
	}

	store, err := LoadModuleDescriptorStore(catalog, b.ModinfoReader)
	if err != nil {
		return err
	}

	selected, err := ResolveModuleSet(catalog, ModuleRuleFiles(config.ConfigDir, config.Architecture), store, store)
	if err != nil {
		return err
	}

	graph, err := ParseDependencyFile(filepath.Join(modulesDir, moduleDependencyFileName))
	if err != nil {
		return err
	}

	for _, cycle := range graph.Cycles() {
		logger.Log.Debugf("Modules depend on each other: %v", cycle)
	}

	closure := graph.Close(selected)
	session.ModuleCount = len(closure)

	span.SetAttributes(
		attribute.Int("catalog_size", catalog.Len()),
		attribute.Int("selected_modules", len(selected)),
		attribute.Int("closure_modules", len(closure)),
	)

	_, err = MaterializeModules(ctx, closure, store, b.Indexer, ModuleTreeOptions{
		TreeDir:            config.TreeDir,
		DestDir:            config.DestDir,
		KernelVersion:      session.KernelVersion,
		TempDir:            config.TempDir,
		Compression:        config.ModuleCompression,
		ExternalToolPolicy: config.ExternalToolPolicy,
		FirmwareRules:      b.FirmwareRules,
	})
	if err != nil {
		return err
	}

	return nil
}

func printStage(title string) {
	bold := color.New(color.Bold)
	_, err := bold.Println(title)
	if err != nil {
		logger.Log.Debugf("Failed to print stage (%s): %v", title, err)
	}
	logger.Log.Debugf("Stage: %s", title)
}
