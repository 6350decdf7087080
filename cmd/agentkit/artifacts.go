// Copyright 2025 Kadir Pekel
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

package main

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/artifact"
	"github.com/kadirpekel/agentkit/pkg/builder"
)

// ArtifactsCmd groups the artifact subcommands.
type ArtifactsCmd struct {
	Ls       ArtifactsLsCmd       `cmd:"" help:"List artifact filenames."`
	Versions ArtifactsVersionsCmd `cmd:"" help:"List the versions of an artifact."`
	Cat      ArtifactsCatCmd      `cmd:"" help:"Print an artifact version."`
	Put      ArtifactsPutCmd      `cmd:"" help:"Store a file as a new artifact version."`
	Rm       ArtifactsRmCmd       `cmd:"" help:"Delete every version of an artifact."`
}

// ArtifactScope addresses the artifacts of one user and session.
type ArtifactScope struct {
	User    string `help:"User id." default:"user"`
	Session string `help:"Session id. Omit for user-scoped (user:) files."`
}

func (s ArtifactScope) key(app, filename string) artifact.Key {
	return artifact.Key{AppName: app, UserID: s.User, SessionID: s.Session, Filename: filename}
}

// open loads the config and opens the artifact store it selects.
func (s ArtifactScope) open(cli *CLI, env *runEnv) (artifact.Service, string, func(), error) {
	cfg, cleanup, err := cli.load()
	if err != nil {
		return nil, "", nil, err
	}
	svc, err := builder.OpenArtifacts(env.ctx, cfg.Artifacts)
	if err != nil {
		cleanup()
		return nil, "", nil, err
	}
	return svc, cfg.App.Name, cleanup, nil
}

type ArtifactsLsCmd struct {
	ArtifactScope `embed:""`
}

func (c *ArtifactsLsCmd) Run(cli *CLI, env *runEnv) error {
	svc, app, cleanup, err := c.open(cli, env)
	if err != nil {
		return err
	}
	defer cleanup()
	return listArtifacts(env, svc, c.ArtifactScope, app)
}

func listArtifacts(env *runEnv, svc artifact.Service, scope ArtifactScope, app string) error {
	names, err := svc.ListKeys(env.ctx, app, scope.User, scope.Session)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Fprintln(env.out, n)
	}
	return nil
}

type ArtifactsVersionsCmd struct {
	ArtifactScope `embed:""`
	Filename      string `arg:"" help:"Artifact filename."`
}

func (c *ArtifactsVersionsCmd) Run(cli *CLI, env *runEnv) error {
	svc, app, cleanup, err := c.open(cli, env)
	if err != nil {
		return err
	}
	defer cleanup()
	return listVersions(env, svc, c.key(app, c.Filename))
}

func listVersions(env *runEnv, svc artifact.Service, key artifact.Key) error {
	versions, err := svc.ListArtifactVersions(env.ctx, key)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(env.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tMIME TYPE\tCREATED\tURI")
	for _, v := range versions {
		created := time.Unix(0, int64(v.CreateTime*float64(time.Second))).UTC().Format(time.RFC3339)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", v.Version, v.MIMEType, created, v.CanonicalURI)
	}
	return tw.Flush()
}

type ArtifactsCatCmd struct {
	ArtifactScope `embed:""`
	Filename      string `arg:"" help:"Artifact filename."`
	Version       int    `help:"Version to print (default: latest)." default:"-1"`
}

func (c *ArtifactsCatCmd) Run(cli *CLI, env *runEnv) error {
	svc, app, cleanup, err := c.open(cli, env)
	if err != nil {
		return err
	}
	defer cleanup()
	return catArtifact(env, svc, c.key(app, c.Filename), c.Version)
}

func catArtifact(env *runEnv, svc artifact.Service, key artifact.Key, version int) error {
	part, err := svc.Load(env.ctx, key, version)
	if err != nil {
		return err
	}
	if part == nil {
		return fmt.Errorf("artifact %q version %d not found", key.Filename, version)
	}
	switch {
	case part.InlineData != nil:
		_, err = env.out.Write(part.InlineData.Data)
	default:
		_, err = fmt.Fprintln(env.out, part.Text)
	}
	return err
}

type ArtifactsPutCmd struct {
	ArtifactScope `embed:""`
	Filename      string `arg:"" help:"Artifact filename."`
	Path          string `arg:"" help:"Local file to store." type:"existingfile"`
	MIMEType      string `name:"mime-type" help:"MIME type (default: detected from the file)."`
}

func (c *ArtifactsPutCmd) Run(cli *CLI, env *runEnv) error {
	svc, app, cleanup, err := c.open(cli, env)
	if err != nil {
		return err
	}
	defer cleanup()
	return putArtifact(env, svc, c.key(app, c.Filename), c.Path, c.MIMEType)
}

func putArtifact(env *runEnv, svc artifact.Service, key artifact.Key, path, mimeType string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	version, err := svc.Save(env.ctx, key, genai.NewPartFromBytes(data, mimeType), map[string]any{"source": filepath.Base(path)})
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "saved %s version %d (%s, %d bytes)\n", key.Filename, version, mimeType, len(data))
	return nil
}

type ArtifactsRmCmd struct {
	ArtifactScope `embed:""`
	Filename      string `arg:"" help:"Artifact filename."`
}

func (c *ArtifactsRmCmd) Run(cli *CLI, env *runEnv) error {
	svc, app, cleanup, err := c.open(cli, env)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := svc.Delete(env.ctx, c.key(app, c.Filename)); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "deleted %s\n", c.Filename)
	return nil
}
