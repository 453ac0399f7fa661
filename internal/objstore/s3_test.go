package objstore

import (
	"bytes"
	"context"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory bucket that pages listings two keys at a time.
type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("not found")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	start := 0
	if in.ContinuationToken != nil {
		start = slices.Index(keys, aws.ToString(in.ContinuationToken))
	}
	end := min(start+2, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	s := newS3Store(fake, "atlas-data", "prod/")

	for _, code := range []string{"11", "12", "15", "18", "03"} {
		key := Key{DataType: "raw", Country: "nor", Year: 2024, Level: "1a", Name: code + ".json"}.String()
		require.NoError(t, s.WriteJSON(ctx, key, doc{Code: code}))
	}
	assert.Contains(t, fake.objects, "prod/raw/country=nor/year=2024/level=1a/11.json")

	var got doc
	require.NoError(t, s.ReadJSON(ctx, "raw/country=nor/year=2024/level=1a/12.json", &got))
	assert.Equal(t, "12", got.Code)

	err := s.ReadJSON(ctx, "raw/none.json", &got)
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := s.ListKeys(ctx, "raw/country=nor/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"raw/country=nor/year=2024/level=1a/03.json",
		"raw/country=nor/year=2024/level=1a/11.json",
		"raw/country=nor/year=2024/level=1a/12.json",
		"raw/country=nor/year=2024/level=1a/15.json",
		"raw/country=nor/year=2024/level=1a/18.json",
	}, keys)

	err = s.WriteJSON(ctx, "../escape.json", doc{})
	assert.ErrorIs(t, err, ErrInvalidKey)
}
