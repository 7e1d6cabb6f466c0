package registry

import (
	"errors"
	"sync"
	"testing"

	apperrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	key  Key
	name string
}

func (f fakeRunner) Key() Key { return f.key }

func errorCode(err error) string {
	var ge *apperrors.Error
	if errors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

func TestRegistryResolve(t *testing.T) {
	reg, err := FromKeyed("runner",
		fakeRunner{key: NewKey("job", "perform"), name: "job-perform"},
		fakeRunner{key: NewKey("job", "build"), name: "job-build"},
		fakeRunner{key: NewKey("spark", "perform"), name: "spark-perform"},
	)
	require.NoError(t, err)

	got, err := reg.Resolve(ParseKey("job+perform"))
	require.NoError(t, err)
	assert.Equal(t, "job-perform", got.name)

	got, err = reg.ResolveParts("spark", "perform")
	require.NoError(t, err)
	assert.Equal(t, "spark-perform", got.name)

	assert.Equal(t, 3, reg.Len())
	assert.True(t, reg.Has(NewKey("job", "build")))
	assert.Equal(t, []Key{NewKey("job", "build"), NewKey("job", "perform"), NewKey("spark", "perform")}, reg.Keys())
}

func TestRegistryMissIsExplicitError(t *testing.T) {
	reg, err := New[string]("builder", Entry[string]{Key: NewKey("job", "perform"), Value: "x"})
	require.NoError(t, err)

	got, err := reg.Resolve(NewKey("job", "unknown"))
	require.Error(t, err)
	assert.Empty(t, got)
	assert.Equal(t, ErrCodeNotFound, errorCode(err))
	assert.Contains(t, err.Error(), "job+unknown")
}

func TestRegistryRejectsDuplicateKeys(t *testing.T) {
	_, err := FromKeyed("runner",
		fakeRunner{key: NewKey("job", "perform"), name: "first"},
		fakeRunner{key: NewKey("job", "perform"), name: "second"},
	)
	require.Error(t, err)
	assert.Equal(t, ErrCodeDuplicateKey, errorCode(err))
}

func TestRegistryRejectsMissingKeys(t *testing.T) {
	_, err := New("runtime", Entry[int]{Value: 1})
	require.Error(t, err)
	assert.Equal(t, ErrCodeKeyMissing, errorCode(err))

	assert.Panics(t, func() {
		MustNew("runtime", Entry[int]{Value: 1})
	})
}

func TestRegistryResolveAllByScope(t *testing.T) {
	reg := MustNew("workflow",
		Entry[string]{Key: NewKey("job", "perform"), Value: "a"},
		Entry[string]{Key: NewKey("job", "build"), Value: "b"},
		Entry[string]{Key: NewKey("jobless", "perform"), Value: "c"},
	)

	all := reg.ResolveAll("job")
	assert.Equal(t, map[string]string{"perform": "a", "build": "b"}, all)
	assert.Empty(t, reg.ResolveAll("spark"))
}

func TestParseKey(t *testing.T) {
	assert.Equal(t, Key{Scope: "job", Name: "perform"}, ParseKey("job+perform"))
	assert.Equal(t, Key{Scope: "job"}, ParseKey("job"))
	assert.Equal(t, "job", ParseKey("job").String())
	assert.True(t, ParseKey("").IsZero())
}

func TestRegistryConcurrentReads(t *testing.T) {
	reg := MustNew("framework", Entry[string]{Key: NewKey("docker", "job"), Value: "docker"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := reg.Resolve(NewKey("docker", "job"))
			assert.NoError(t, err)
			assert.Equal(t, "docker", v)
		}()
	}
	wg.Wait()
}
