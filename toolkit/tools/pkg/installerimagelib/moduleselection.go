// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package installerimagelib

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/installerimage/installer-image-tools/toolkit/tools/internal/logger"
)

type SelectionRuleKind int

const (
	RuleInclude SelectionRuleKind = iota
	RuleExclude
	RuleIncludeCategory
)

func (k SelectionRuleKind) String() string {
	switch k {
	case RuleExclude:
		return "exclude"
	case RuleIncludeCategory:
		return "include-category"
	default:
		return "include"
	}
}

type SelectionRule struct {
	Kind  SelectionRuleKind
	Value string
	File  string
	Line  int
}

// CategoryResolver expands a category token of a rule file to module names.
type CategoryResolver interface {
	ResolveCategory(token string) ([]string, error)
}

// AliasResolver maps a module alias to its module name.
type AliasResolver interface {
	ResolveAlias(alias string) (string, bool)
}

// ModuleRuleFiles returns the rule files of an architecture in the order they apply.
func ModuleRuleFiles(configDir string, arch string) []string {
	return []string{
		filepath.Join(configDir, "modules", "modules"),
		filepath.Join(configDir, "modules", arch, "modules"),
	}
}

// ParseRuleLines parses the directives of one rule file. '#' starts a comment.
func ParseRuleLines(lines []string, file string) []SelectionRule {
	rules := []SelectionRule(nil)
	for i, line := range lines {
		line, _, _ = strings.Cut(line, "#")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		rule := SelectionRule{
			Kind:  RuleInclude,
			Value: line,
			File:  file,
			Line:  i + 1,
		}

		switch {
		case strings.HasPrefix(line, "-"):
			rule.Kind = RuleExclude
			rule.Value = strings.TrimSpace(line[1:])
		case strings.HasPrefix(line, "="):
			rule.Kind = RuleIncludeCategory
			rule.Value = strings.TrimSpace(line[1:])
		}

		if rule.Value == "" {
			logger.Log.Warnf("Ignoring empty %s directive (%s:%d)", rule.Kind, file, rule.Line)
			continue
		}

		rules = append(rules, rule)
	}
	return rules
}

// ReadRuleFiles parses the rule files in order. Missing files are skipped.
func ReadRuleFiles(ruleFiles []string) ([]SelectionRule, error) {
	rules := []SelectionRule(nil)
	for _, ruleFile := range ruleFiles {
		lines, err := readOptionalLines(ruleFile)
		if err != nil {
			return nil, NewBuildErrorWithCause(ErrTypeConfig, fmt.Sprintf("failed to read rule file (%s)", ruleFile), err)
		}
		if lines == nil {
			logger.Log.Debugf("Rule file (%s) does not exist", ruleFile)
			continue
		}

		rules = append(rules, ParseRuleLines(lines, ruleFile)...)
	}
	return rules, nil
}

// ResolveModuleSet applies the rule files in order to the catalog. Later directives win over
// earlier ones. Names that are neither in the catalog nor a known alias are dropped.
func ResolveModuleSet(catalog *ModuleCatalog, ruleFiles []string, categories CategoryResolver,
	aliases AliasResolver,
) (ModuleSet, error) {
	rules, err := ReadRuleFiles(ruleFiles)
	if err != nil {
		return nil, err
	}

	return ApplySelectionRules(catalog, rules, categories, aliases)
}

func ApplySelectionRules(catalog *ModuleCatalog, rules []SelectionRule, categories CategoryResolver,
	aliases AliasResolver,
) (ModuleSet, error) {
	modules := NewModuleSet()

	for _, rule := range rules {
		switch rule.Kind {
		case RuleIncludeCategory:
			names, err := categories.ResolveCategory(rule.Value)
			if err != nil {
				return nil, fmt.Errorf("invalid directive (%s:%d):\n%w", rule.File, rule.Line, err)
			}
			for _, name := range names {
				modules.Add(name)
			}

		case RuleExclude:
			name, ok := resolveRuleName(catalog, aliases, rule.Value)
			if !ok {
				name = rule.Value
			}
			modules.Remove(name)

		default:
			name, ok := resolveRuleName(catalog, aliases, rule.Value)
			if !ok {
				logger.Log.Warnf("Module (%s) does not exist (%s:%d)", rule.Value, rule.File, rule.Line)
				continue
			}
			modules.Add(name)
		}
	}

	return modules, nil
}

func resolveRuleName(catalog *ModuleCatalog, aliases AliasResolver, value string) (string, bool) {
	name, ok := catalog.resolveName(value)
	if ok {
		return name, true
	}

	if aliases != nil {
		return aliases.ResolveAlias(value)
	}

	return "", false
}
