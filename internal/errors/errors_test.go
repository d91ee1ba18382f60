package errors

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	err := NewContentError("UNKNOWN_MACRO", "unknown preprocessor command foo", nil).
		WithPackage("hello").
		WithFile("hello/hello.php", "change")

	assert.Equal(t, "[UNKNOWN_MACRO] package:hello hello/hello.php(change) unknown preprocessor command foo", err.Error())
}

func TestError_WrapKeepsContext(t *testing.T) {
	inner := NewIOError("WRITE", "write destination", errors.New("disk full")).
		WithPackage("shop").
		WithFile("shop/a.css", "add")

	wrapped := Wrap(inner, ErrorTypeInternal, "SYNC", "sync failed")
	require.NotNil(t, wrapped)

	assert.Equal(t, "shop", wrapped.Package)
	assert.Equal(t, "shop/a.css", wrapped.FilePath)
	assert.ErrorIs(t, wrapped, inner)
	assert.Nil(t, Wrap(nil, ErrorTypeIO, "X", "y"))
}

func TestError_Is(t *testing.T) {
	a := NewRemoteError("PUBLISH", "a", nil)
	b := NewRemoteError("PUBLISH", "b", errors.New("other"))
	c := NewRemoteError("LOOKUP", "c", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestTypePredicates(t *testing.T) {
	content := fmt.Errorf("outer: %w", NewContentError("C", "bad header", nil))

	assert.True(t, IsContentError(content))
	assert.False(t, IsRemoteError(content))
	assert.True(t, IsRemoteError(NewRemoteError("R", "down", nil)))
	assert.True(t, IsConfigError(NewConfigError("CFG", "missing root")))
	assert.False(t, IsContentError(errors.New("plain")))
}

func TestError_Fields(t *testing.T) {
	err := NewContentError("BAD_SCOPE", "unknown scope", nil).WithPackage("s").WithFile("s/s.php", "add")

	assert.Equal(t, []interface{}{
		"error_type", "content",
		"code", "BAD_SCOPE",
		"package", "s",
		"file", "s/s.php",
		"event", "add",
	}, err.Fields())
}

func TestErrorCollector(t *testing.T) {
	collector := NewErrorCollector()
	assert.False(t, collector.HasErrors())
	assert.NoError(t, collector.Err())

	collector.Add(nil)
	collector.Add(NewContentError("C", "x", nil).WithPackage("alpha"))
	collector.Add(errors.New("plain"))
	collector.Add(NewIOError("IO", "y", nil).WithPackage("beta"))

	assert.True(t, collector.HasErrors())
	assert.Len(t, collector.Errors(), 3)
	assert.Error(t, collector.Err())
	assert.ErrorContains(t, collector.Err(), "plain")
}

func TestErrorCollector_Concurrent(t *testing.T) {
	collector := NewErrorCollector()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			collector.Add(fmt.Errorf("error %d", i))
		}(i)
	}
	wg.Wait()

	assert.Len(t, collector.Errors(), 20)
}
