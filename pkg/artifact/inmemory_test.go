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


package artifact_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/agentkit/pkg/artifact"
	"github.com/kadirpekel/agentkit/pkg/artifact/artifacttest"
)

func TestInMemoryService(t *testing.T) {
	artifacttest.Run(t, func(t *testing.T, now func() time.Time) artifact.Service {
		return artifact.NewInMemoryService(artifact.WithClock(now))
	}, artifacttest.Options{Scheme: "memory", SaveOrderedKeys: true})
}

func TestInMemoryService_CanonicalURI(t *testing.T) {
	ctx := context.Background()
	svc := artifact.NewInMemoryService()
	part := &genai.Part{Text: "x"}

	session := artifact.Key{AppName: "app", UserID: "u", SessionID: "s", Filename: "report.txt"}
	user := artifact.Key{AppName: "app", UserID: "u", SessionID: "s", Filename: "user:profile.json"}
	for _, k := range []artifact.Key{session, user} {
		_, err := svc.Save(ctx, k, part, nil)
		require.NoError(t, err)
	}

	v, err := svc.GetArtifactVersion(ctx, session, 0)
	require.NoError(t, err)
	assert.Equal(t, "memory://apps/app/users/u/sessions/s/artifacts/report.txt/versions/0", v.CanonicalURI)

	v, err = svc.GetArtifactVersion(ctx, user, 0)
	require.NoError(t, err)
	assert.Equal(t, "memory://apps/app/users/u/artifacts/user:profile.json/versions/0", v.CanonicalURI)
}

func TestInMemoryService_ConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	svc := artifact.NewInMemoryService()
	k := artifact.Key{AppName: "app", UserID: "u", SessionID: "s", Filename: "log"}

	const n = 50
	versions := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := svc.Save(ctx, k, &genai.Part{Text: "line"}, nil)
			assert.NoError(t, err)
			versions[i] = v
		}(i)
	}
	wg.Wait()

	sort.Ints(versions)
	for i, v := range versions {
		assert.Equal(t, i, v)
	}
}

func TestInMemoryService_StoredPartIsImmutable(t *testing.T) {
	ctx := context.Background()
	svc := artifact.NewInMemoryService()
	k := artifact.Key{AppName: "app", UserID: "u", SessionID: "s", Filename: "bin"}
	data := []byte("abc")

	_, err := svc.Save(ctx, k, &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: "application/octet-stream"}}, nil)
	require.NoError(t, err)
	data[0] = 'z'

	got, err := svc.Load(ctx, k, artifact.Latest)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got.InlineData.Data)
}

func TestKeyValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     artifact.Key
		wantErr bool
	}{
		{"complete", artifact.Key{AppName: "a", UserID: "u", SessionID: "s", Filename: "f"}, false},
		{"user scoped without session", artifact.Key{AppName: "a", UserID: "u", Filename: "user:f"}, false},
		{"session scoped without session", artifact.Key{AppName: "a", UserID: "u", Filename: "f"}, true},
		{"missing app", artifact.Key{UserID: "u", SessionID: "s", Filename: "f"}, true},
		{"missing filename", artifact.Key{AppName: "a", UserID: "u", SessionID: "s"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, artifact.ErrInvalidKey)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
