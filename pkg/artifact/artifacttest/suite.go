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


// Package artifacttest holds a behaviour suite shared by artifact backends.
package artifacttest

import (
	"context"
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/artifact"
)

// FixedTime is the clock value handed to factories.
var FixedTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// Factory builds an empty service whose clock always returns now().
type Factory func(t *testing.T, now func() time.Time) artifact.Service

// Options tune expectations that legitimately differ between backends.
type Options struct {
	// Scheme is the canonical URI scheme of the backend.
	Scheme string
	// SaveOrderedKeys requires ListKeys to follow save order.
	SaveOrderedKeys bool
}

// Run exercises a backend against the artifact service contract.
func Run(t *testing.T, newService Factory, opts Options) {
	ctx := context.Background()
	fixed := func() time.Time { return FixedTime }

	key := func(filename string) artifact.Key {
		return artifact.Key{AppName: "app0", UserID: "user0", SessionID: "123", Filename: filename}
	}
	blob := func(data []byte) *genai.Part {
		return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: "text/plain"}}
	}
	versioned := func(i int) *genai.Part {
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(i))
		return blob(buf)
	}

	t.Run("LoadEmpty", func(t *testing.T) {
		svc := newService(t, fixed)
		got, err := svc.Load(ctx, key("filename"), artifact.Latest)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("SaveLoadDelete", func(t *testing.T) {
		svc := newService(t, fixed)
		k := key("file456")
		part := blob([]byte("test_data"))

		v, err := svc.Save(ctx, k, part, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, v)

		got, err := svc.Load(ctx, k, artifact.Latest)
		require.NoError(t, err)
		assert.Equal(t, part, got)

		got, err = svc.Load(ctx, k, 3)
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, svc.Delete(ctx, k))
		got, err = svc.Load(ctx, k, artifact.Latest)
		require.NoError(t, err)
		assert.Nil(t, got)

		versions, err := svc.ListVersions(ctx, k)
		require.NoError(t, err)
		assert.Empty(t, versions)
	})

	t.Run("LoadEveryVersion", func(t *testing.T) {
		svc := newService(t, fixed)
		k := key("with/slash/filename")
		for i := 0; i < 3; i++ {
			v, err := svc.Save(ctx, k, versioned(i), nil)
			require.NoError(t, err)
			assert.Equal(t, i, v)
		}
		_, err := svc.Save(ctx, k, &genai.Part{Text: "hello"}, nil)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			got, err := svc.Load(ctx, k, i)
			require.NoError(t, err)
			assert.Equal(t, versioned(i), got)
		}
		latest, err := svc.Load(ctx, k, artifact.Latest)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, "hello", latest.Text)

		missing, err := svc.Load(ctx, k, 4)
		require.NoError(t, err)
		assert.Nil(t, missing)

		versions, err := svc.ListVersions(ctx, k)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 3}, versions)
	})

	t.Run("ListKeys", func(t *testing.T) {
		svc := newService(t, fixed)
		var want []string
		for i := 0; i < 5; i++ {
			name := fmt.Sprintf("filename%d", i)
			want = append(want, name)
			_, err := svc.Save(ctx, key(name), blob([]byte("test_data")), nil)
			require.NoError(t, err)
		}
		_, err := svc.Save(ctx, artifact.Key{AppName: "app0", UserID: "user0", SessionID: "other", Filename: "foreign"}, blob([]byte("x")), nil)
		require.NoError(t, err)

		got, err := svc.ListKeys(ctx, "app0", "user0", "123")
		require.NoError(t, err)
		if opts.SaveOrderedKeys {
			assert.Equal(t, want, got)
		} else {
			assert.ElementsMatch(t, want, got)
		}
	})

	t.Run("ListKeysPreservesUserPrefix", func(t *testing.T) {
		svc := newService(t, fixed)
		for _, name := range []string{"user:document.pdf", "user:image.png", "session_file.txt"} {
			_, err := svc.Save(ctx, key(name), blob([]byte("test_data")), nil)
			require.NoError(t, err)
		}

		got, err := svc.ListKeys(ctx, "app0", "user0", "123")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"user:document.pdf", "user:image.png", "session_file.txt"}, got)

		other, err := svc.ListKeys(ctx, "app0", "user0", "another-session")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"user:document.pdf", "user:image.png"}, other)
	})

	t.Run("UserScopedAcrossSessions", func(t *testing.T) {
		svc := newService(t, fixed)
		_, err := svc.Save(ctx, key("user:notes"), blob([]byte("v0")), nil)
		require.NoError(t, err)

		fromOther := artifact.Key{AppName: "app0", UserID: "user0", SessionID: "456", Filename: "user:notes"}
		v, err := svc.Save(ctx, fromOther, blob([]byte("v1")), nil)
		require.NoError(t, err)
		assert.Equal(t, 1, v)

		got, err := svc.Load(ctx, key("user:notes"), artifact.Latest)
		require.NoError(t, err)
		assert.Equal(t, blob([]byte("v1")), got)
	})

	t.Run("ArtifactVersions", func(t *testing.T) {
		for _, filename := range []string{"filename", "user:document.pdf"} {
			t.Run(filename, func(t *testing.T) {
				svc := newService(t, fixed)
				k := key(filename)
				for i := 0; i < 4; i++ {
					_, err := svc.Save(ctx, k, versioned(i), map[string]any{"key": fmt.Sprintf("value%d", i)})
					require.NoError(t, err)
				}

				var want []*artifact.ArtifactVersion
				for i := 0; i < 4; i++ {
					want = append(want, &artifact.ArtifactVersion{
						Version:        i,
						CanonicalURI:   artifact.CanonicalURI(opts.Scheme, k, i),
						MIMEType:       "text/plain",
						CustomMetadata: map[string]any{"key": fmt.Sprintf("value%d", i)},
						CreateTime:     float64(FixedTime.Unix()),
					})
				}

				got, err := svc.ListArtifactVersions(ctx, k)
				require.NoError(t, err)
				assert.Equal(t, want, got)

				latest, err := svc.GetArtifactVersion(ctx, k, artifact.Latest)
				require.NoError(t, err)
				assert.Equal(t, want[3], latest)

				second, err := svc.GetArtifactVersion(ctx, k, 2)
				require.NoError(t, err)
				assert.Equal(t, want[2], second)
			})
		}
	})

	t.Run("GetArtifactVersionMissing", func(t *testing.T) {
		svc := newService(t, fixed)
		got, err := svc.GetArtifactVersion(ctx, key("filename"), artifact.Latest)
		require.NoError(t, err)
		assert.Nil(t, got)

		_, err = svc.Save(ctx, key("filename"), blob([]byte("test_data")), nil)
		require.NoError(t, err)
		got, err = svc.GetArtifactVersion(ctx, key("filename"), 3)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("InvalidKey", func(t *testing.T) {
		svc := newService(t, fixed)
		_, err := svc.Save(ctx, artifact.Key{AppName: "app0", UserID: "user0", Filename: "no-session"}, blob([]byte("x")), nil)
		assert.ErrorIs(t, err, artifact.ErrInvalidKey)
	})
}
