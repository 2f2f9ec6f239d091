// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package template

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/bcem/legalmail/internal/apperr"
)

// Category is the remote folder holding email templates.
const Category = "email"

// RemoteSource fetches template content that is not available locally.
type RemoteSource interface {
	Fetch(ctx context.Context, category, name string) ([]byte, error)
}

// Resolver maps template names to local file paths.
type Resolver struct {
	baseDir  string
	cacheDir string
	remote   RemoteSource
	paths    *gocache.Cache
}

// ResolverConfig holds dependencies for the resolver.
type ResolverConfig struct {
	// BaseDir is prepended to relative template names. Empty means the
	// working directory.
	BaseDir string
	// CacheDir receives templates downloaded from Remote.
	CacheDir string
	// Remote is optional; without it missing templates are NotFound.
	Remote RemoteSource
	// CacheTTL bounds how long a downloaded template path is reused.
	CacheTTL time.Duration
}

// NewResolver creates a template resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = "email_templates_cache"
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &Resolver{
		baseDir:  cfg.BaseDir,
		cacheDir: cacheDir,
		remote:   cfg.Remote,
		paths:    gocache.New(ttl, 2*ttl),
	}
}

// Resolve returns a readable local path for the named template.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation(apperr.CodeTemplateNotFound, "template name is empty")
	}

	local := filepath.Clean(name)
	if r.baseDir != "" && !filepath.IsAbs(local) {
		local = filepath.Join(r.baseDir, local)
	}
	if fileExists(local) {
		return local, nil
	}

	if cached, ok := r.paths.Get(name); ok {
		if p := cached.(string); fileExists(p) {
			return p, nil
		}
		r.paths.Delete(name)
	}

	if r.remote == nil {
		return "", apperr.Validation(apperr.CodeTemplateNotFound,
			fmt.Sprintf("template %q not found", name))
	}

	key, err := RemoteKey(name)
	if err != nil {
		return "", err
	}

	data, err := r.remote.Fetch(ctx, Category, key)
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindTransport, apperr.CodeTemplateNotFound,
			fmt.Sprintf("download template %q", name))
	}

	// The cache mirrors the remote layout so same-named templates in
	// different folders never share a file.
	dest := filepath.Join(r.cacheDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", apperr.Persistence(apperr.CodeTemplateNotFound, "create template cache", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", apperr.Persistence(apperr.CodeTemplateNotFound, "write cached template", err)
	}

	r.paths.SetDefault(name, dest)
	slog.Info("template downloaded to cache",
		"template", name,
		"path", dest,
		"bytes", len(data),
	)

	return dest, nil
}

// RemoteKey converts a template name into a slash-separated key relative
// to the template category. Absolute names and names that climb out of
// the category with ".." are rejected.
func RemoteKey(name string) (string, error) {
	key := path.Clean(strings.TrimSpace(filepath.ToSlash(name)))
	if key == "." || path.IsAbs(key) || filepath.IsAbs(name) || key == ".." || strings.HasPrefix(key, "../") {
		return "", apperr.Validation(apperr.CodeTemplateNotFound,
			fmt.Sprintf("template name %q is not a relative path", name))
	}
	return key, nil
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
