package policy

import (
	"errors"
	"strings"

	"github.com/buildgate/buildgate/internal/config"
	"github.com/buildgate/buildgate/internal/model"
)

// PathPolicy validates filesystem paths against configured roots.
type PathPolicy struct {
	roots           []string
	enterprise      bool
	enterpriseRoots []string
	crossPlatform   bool
	scriptDirs      []string
	scriptExts      map[string]struct{}
}

// NewPathPolicy builds a PathPolicy from configuration. Roots are
// canonicalized once so every validation is a string comparison.
func NewPathPolicy(cfg config.PathsConfig) *PathPolicy {
	p := &PathPolicy{
		enterprise:    cfg.EnterpriseMode,
		crossPlatform: cfg.CrossPlatform,
		scriptExts:    make(map[string]struct{}, len(cfg.ScriptExtensions)),
	}
	for _, r := range cfg.AllowedRoots {
		p.roots = append(p.roots, canonicalize(r, cfg.CrossPlatform))
	}
	for _, r := range cfg.EnterpriseRoots {
		p.enterpriseRoots = append(p.enterpriseRoots, canonicalize(r, cfg.CrossPlatform))
	}
	for _, d := range cfg.ScriptDirs {
		p.scriptDirs = append(p.scriptDirs, canonicalize(d, cfg.CrossPlatform))
	}
	for _, e := range cfg.ScriptExtensions {
		p.scriptExts[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return p
}

// Validate checks a path for traversal and confines it to the allowed roots.
// Traversal is checked on both the raw and the canonical form, so an
// encoding that normalization would erase still counts as an attempt.
func (p *PathPolicy) Validate(path string) error {
	if strings.TrimSpace(path) == "" {
		return model.NewViolation(model.KindInvalidInput, "path is empty")
	}
	if hasTraversal(path) {
		return model.NewViolation(model.KindPathTraversal, "path contains a traversal sequence")
	}
	canon := canonicalize(path, p.crossPlatform)
	if hasTraversal(canon) {
		return model.NewViolation(model.KindPathTraversal, "path contains a traversal sequence")
	}

	if p.enterprise {
		for _, root := range p.enterpriseRoots {
			if matchEnterpriseRoot(canon, root) {
				return nil
			}
		}
		return model.NewViolation(model.KindPathNotAllowed,
			"path is outside the enterprise roots; ask an administrator to extend paths.enterprise_roots")
	}

	for _, root := range p.roots {
		if underRoot(canon, root) {
			return nil
		}
	}
	return model.NewViolation(model.KindPathNotAllowed,
		"path is outside the allowed roots; add the directory to paths.allowed_roots")
}

// ValidateScript checks a script path: the usual path rules, then the
// extension allowlist, then confinement to the configured script
// directories.
func (p *PathPolicy) ValidateScript(path string) error {
	if err := p.Validate(path); err != nil {
		var v *model.Violation
		// Scripts outside the execution roots report the script remediation.
		if errors.As(err, &v) && v.Kind == model.KindPathNotAllowed {
			return model.NewViolation(model.KindPathNotAllowed,
				"script is outside the allowed roots; add the directory to paths.script_dirs")
		}
		return err
	}

	canon := canonicalize(path, p.crossPlatform)
	ext := ""
	if idx := strings.LastIndexByte(canon, '.'); idx >= 0 && idx > strings.LastIndexByte(canon, '/') {
		ext = canon[idx:]
	}
	if _, ok := p.scriptExts[ext]; !ok {
		return model.NewViolation(model.KindPathNotAllowed,
			"script extension %q is not runnable", ext)
	}

	if len(p.scriptDirs) == 0 {
		return nil
	}
	for _, dir := range p.scriptDirs {
		if underRoot(canon, dir) {
			return nil
		}
	}
	return model.NewViolation(model.KindPathNotAllowed,
		"script is outside the allowed roots; add the directory to paths.script_dirs")
}

// hasTraversal reports dot-dot segments or home-directory references.
func hasTraversal(path string) bool {
	if strings.Contains(path, "~") {
		return true
	}
	for _, seg := range strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\'
	}) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// canonicalize lowercases a path and rewrites separators to forward
// slashes. In cross-platform mode runs of separators collapse so
// C:\\builds and C:/builds compare equal.
func canonicalize(path string, crossPlatform bool) string {
	s := strings.ToLower(strings.TrimSpace(path))
	s = strings.ReplaceAll(s, "\\", "/")
	if crossPlatform {
		for strings.Contains(s, "//") {
			s = strings.ReplaceAll(s, "//", "/")
		}
	}
	return strings.TrimRight(s, "/")
}

// underRoot reports whether canon equals root or sits beneath it. Both
// arguments are canonical.
func underRoot(canon, root string) bool {
	if root == "" {
		return false
	}
	if canon == root {
		return true
	}
	return strings.HasPrefix(canon, root+"/")
}

// matchEnterpriseRoot treats a trailing * as a single-level wildcard, so
// d:/teams/*/builds admits d:/teams/payments/builds.
func matchEnterpriseRoot(canon, root string) bool {
	if !strings.Contains(root, "*") {
		return underRoot(canon, root)
	}
	parts := strings.SplitN(root, "*", 2)
	prefix, suffix := parts[0], parts[1]
	if !strings.HasPrefix(canon, prefix) {
		return false
	}
	rest := canon[len(prefix):]
	star := rest
	if idx := strings.Index(rest, "/"); idx >= 0 {
		star = rest[:idx]
	}
	if star == "" {
		return false
	}
	expanded := prefix + star + suffix
	return underRoot(canon, expanded)
}
