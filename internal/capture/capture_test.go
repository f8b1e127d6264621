package capture

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticLimit(t *testing.T) {
	t.Parallel()

	src := NewSynthetic(64, 48, 0, 3)
	c, err := src.Open(context.Background())
	require.NoError(t, err)
	defer c.Release()

	for i := 0; i < 3; i++ {
		f, err := c.Read(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(i), f.FrameNum)
		assert.Equal(t, 64, f.Width())
		assert.Equal(t, 48, f.Height())
	}
	_, err = c.Read(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestSyntheticRelease(t *testing.T) {
	t.Parallel()

	c, err := NewSynthetic(8, 8, 0, 0).Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Release())
	require.NoError(t, c.Release())

	_, err = c.Read(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSyntheticInvalidSize(t *testing.T) {
	t.Parallel()

	_, err := NewSynthetic(0, 10, 5, 0).Open(context.Background())
	assert.Error(t, err)
}

func TestSyntheticHonoursContext(t *testing.T) {
	t.Parallel()

	c, err := NewSynthetic(8, 8, 1, 0).Open(context.Background())
	require.NoError(t, err)
	defer c.Release()

	_, err = c.Read(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func writePNG(t *testing.T, path string, v uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	require.NoError(t, imaging.Save(img, path))
}

func TestDirReplay(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "b.png"), 200)
	writePNG(t, filepath.Join(dir, "a.png"), 10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	c, err := NewDir(dir, false, 0).Open(context.Background())
	require.NoError(t, err)
	defer c.Release()

	first, err := c.Read(context.Background())
	require.NoError(t, err)
	r, _, _, _ := first.Image.At(0, 0).RGBA()
	assert.Equal(t, uint32(10), r>>8, "files are replayed in name order")

	_, err = c.Read(context.Background())
	require.NoError(t, err)

	_, err = c.Read(context.Background())
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestDirLoop(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "only.png"), 90)

	c, err := NewDir(dir, true, 0).Open(context.Background())
	require.NoError(t, err)
	defer c.Release()

	for i := 0; i < 3; i++ {
		f, err := c.Read(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint64(i), f.FrameNum)
		assert.Equal(t, color.NRGBAModel.Convert(color.Gray{Y: 90}), color.NRGBAModel.Convert(f.Image.At(1, 1)))
	}
}

func TestDirEmpty(t *testing.T) {
	t.Parallel()

	_, err := NewDir(t.TempDir(), false, 0).Open(context.Background())
	assert.Error(t, err)
}
