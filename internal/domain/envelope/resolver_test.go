package envelope

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	global        *Envelope
	globalErr     error
	created       map[string]*Envelope
	getOrCreateFn func(ctx context.Context, userID uuid.UUID, name string) (*Envelope, error)
}

func (f *fakeRepo) GetGlobalDefault(ctx context.Context) (*Envelope, error) {
	if f.globalErr != nil {
		return nil, f.globalErr
	}
	return f.global, nil
}

func (f *fakeRepo) GetOrCreate(ctx context.Context, userID uuid.UUID, name string) (*Envelope, error) {
	if f.getOrCreateFn != nil {
		return f.getOrCreateFn(ctx, userID, name)
	}
	if e, ok := f.created[name]; ok {
		return e, nil
	}
	e := &Envelope{ID: uuid.New(), UserID: &userID, Name: name, Type: TypeMonetary}
	if f.created == nil {
		f.created = map[string]*Envelope{}
	}
	f.created[name] = e
	return e, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolver_Resolve(t *testing.T) {
	userID := uuid.New()
	global := &Envelope{ID: uuid.New(), Name: GlobalDefaultName, IsGlobal: true}

	t.Run("empty name resolves to global default", func(t *testing.T) {
		r := NewResolver(&fakeRepo{global: global}, testLogger())

		env, err := r.Resolve(context.Background(), userID, "   ")
		require.NoError(t, err)
		assert.Equal(t, global.ID, env.ID)
	})

	t.Run("reserved name resolves to global regardless of accents and case", func(t *testing.T) {
		r := NewResolver(&fakeRepo{global: global}, testLogger())

		for _, name := range []string{"Padrão", "padrao", "PADRÃO", "  padrAo  "} {
			env, err := r.Resolve(context.Background(), userID, name)
			require.NoError(t, err, "name %q", name)
			assert.Equal(t, global.ID, env.ID, "name %q", name)
		}
	})

	t.Run("missing global default is fatal", func(t *testing.T) {
		r := NewResolver(&fakeRepo{globalErr: ErrGlobalEnvelopeMissing}, testLogger())

		_, err := r.Resolve(context.Background(), userID, "")
		assert.ErrorIs(t, err, ErrGlobalEnvelopeMissing)
	})

	t.Run("other names are created under the user", func(t *testing.T) {
		repo := &fakeRepo{global: global}
		r := NewResolver(repo, testLogger())

		env, err := r.Resolve(context.Background(), userID, "Mercado")
		require.NoError(t, err)
		assert.Equal(t, "Mercado", env.Name)
		require.NotNil(t, env.UserID)
		assert.Equal(t, userID, *env.UserID)

		again, err := r.Resolve(context.Background(), userID, "Mercado")
		require.NoError(t, err)
		assert.Equal(t, env.ID, again.ID)
	})
}

func TestFoldName(t *testing.T) {
	cases := map[string]string{
		"Padrão":         "padrao",
		"  ALIMENTAÇÃO ": "alimentacao",
		"Café":           "cafe",
		"simple":         "simple",
	}
	for in, want := range cases {
		assert.Equal(t, want, FoldName(in), "input %q", in)
	}
}

func TestIsReservedName(t *testing.T) {
	assert.True(t, IsReservedName("padrao"))
	assert.True(t, IsReservedName("Padrão"))
	assert.False(t, IsReservedName("Mercado"))
}
