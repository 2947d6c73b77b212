package objectstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/images/a.jpg", PublicURL("https://cdn.example.com/", "images/a.jpg"))
	assert.Equal(t, "https://cdn.example.com/images/a.jpg", PublicURL("https://cdn.example.com", "/images/a.jpg"))
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("images/abc.jpg"))
	assert.Error(t, ValidateKey(""))
	assert.Error(t, ValidateKey("/abs.jpg"))
	assert.Error(t, ValidateKey("images/../etc/passwd"))
	assert.Error(t, ValidateKey("images//a.jpg"))
}

func TestMemory_PutExistsGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ok, err := m.Exists(ctx, "images/a.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	body := []byte("abc")
	require.NoError(t, m.Put(ctx, "images/a.jpg", body, PutOptions{ContentType: "image/jpeg", CacheControl: CacheImmutable}))
	body[0] = 'X' // stored copy must not alias the caller's buffer

	ok, err = m.Exists(ctx, "images/a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	obj, ok := m.Get("images/a.jpg")
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), obj.Body)
	assert.Equal(t, CacheImmutable, obj.CacheControl)
	assert.Equal(t, []string{"images/a.jpg"}, m.Puts())
	assert.Equal(t, 1, m.Len())
}

func TestMemory_InjectedErrors(t *testing.T) {
	m := NewMemory()
	m.ExistsErr = errors.New("boom")
	_, err := m.Exists(context.Background(), "k")
	assert.EqualError(t, err, "boom")

	m.PutErr = errors.New("full")
	assert.EqualError(t, m.Put(context.Background(), "k", nil, PutOptions{}), "full")
}

func TestMemory_ConcurrentPuts(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Put(context.Background(), "same/key.jpg", []byte("x"), PutOptions{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, m.Len())
	assert.Len(t, m.Puts(), 20)
}

func TestFS_PutExistsMetadata(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")
	s, err := NewFS(root)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "images/ab/cd.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "images/ab/cd.jpg", []byte("jpeg"), PutOptions{ContentType: "image/jpeg", CacheControl: CacheImmutable}))

	ok, err = s.Exists(ctx, "images/ab/cd.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	data, err := os.ReadFile(filepath.Join(root, "images", "ab", "cd.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	meta, err := s.Metadata("images/ab/cd.jpg")
	require.NoError(t, err)
	assert.Equal(t, PutOptions{ContentType: "image/jpeg", CacheControl: CacheImmutable}, meta)
}

func TestFS_OverwriteAndDirectoryIsNotObject(t *testing.T) {
	s, err := NewFS(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "manifest.json", []byte("one"), PutOptions{CacheControl: CacheNoCache}))
	require.NoError(t, s.Put(ctx, "manifest.json", []byte("two"), PutOptions{CacheControl: CacheNoCache}))
	data, err := os.ReadFile(filepath.Join(s.Root, "manifest.json"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	require.NoError(t, os.MkdirAll(filepath.Join(s.Root, "dir"), 0o755))
	ok, err := s.Exists(ctx, "dir")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFS_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFS(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, s.Put(context.Background(), "../outside.jpg", []byte("x"), PutOptions{}))
}

func TestNewFS_RequiresRoot(t *testing.T) {
	_, err := NewFS("")
	assert.Error(t, err)
}

type fakeS3 struct {
	objects map[string]*s3.PutObjectInput
	bodies  map[string][]byte
	headErr error
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = in
	f.bodies[key] = body
	return &s3.PutObjectOutput{}, nil
}

func TestS3_ExistsAndPut(t *testing.T) {
	fake := &fakeS3{objects: map[string]*s3.PutObjectInput{}, bodies: map[string][]byte{}}
	s := &S3{client: fake, bucket: "media"}
	ctx := context.Background()

	ok, err := s.Exists(ctx, "images/a.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "images/a.jpg", []byte("jpeg"), PutOptions{ContentType: "image/jpeg", CacheControl: CacheImmutable}))
	in := fake.objects["images/a.jpg"]
	require.NotNil(t, in)
	assert.Equal(t, "media", aws.ToString(in.Bucket))
	assert.Equal(t, "image/jpeg", aws.ToString(in.ContentType))
	assert.Equal(t, CacheImmutable, aws.ToString(in.CacheControl))
	assert.Equal(t, int64(4), aws.ToInt64(in.ContentLength))
	assert.Equal(t, []byte("jpeg"), fake.bodies["images/a.jpg"])

	ok, err = s.Exists(ctx, "images/a.jpg")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestS3_ExistsPropagatesOtherErrors(t *testing.T) {
	fake := &fakeS3{headErr: errors.New("access denied")}
	s := &S3{client: fake, bucket: "media"}

	_, err := s.Exists(context.Background(), "images/a.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{})
	assert.Error(t, err)
}
