package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "site-guardian/internal/errors"
)

func TestCodecs_RoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("INSERT INTO `wp_options` VALUES ('siteurl','x;y');\n", 200))

	tests := []struct {
		config    CompressionConfig
		extension string
	}{
		{CompressionConfig{Algorithm: CompressionGzip, Level: 6}, ".gz"},
		{CompressionConfig{Algorithm: CompressionGzip, Level: 99}, ".gz"},
		{CompressionConfig{Algorithm: CompressionLZ4, Level: 9}, ".lz4"},
		{CompressionConfig{Algorithm: CompressionLZ4}, ".lz4"},
		{CompressionConfig{Algorithm: CompressionZstd, Level: 3}, ".zst"},
		{CompressionConfig{Algorithm: CompressionNone}, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.config.Algorithm), func(t *testing.T) {
			codec, err := NewCodec(tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.extension, codec.Extension())

			encoded, err := codec.Encode(payload)
			require.NoError(t, err)
			if tt.config.Algorithm != CompressionNone {
				assert.Less(t, len(encoded), len(payload))
			}

			decoded, err := codec.Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, payload, decoded)
		})
	}
}

func TestNewCodec_Unsupported(t *testing.T) {
	_, err := NewCodec(CompressionConfig{Algorithm: "BROTLI"})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeConfiguration, apperrors.GetErrorType(err))
}

func TestEncryptor(t *testing.T) {
	enc, err := NewEncryptor(DeriveKey("correct horse", nil))
	require.NoError(t, err)

	sealed, err := enc.Seal([]byte("secret dump"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "secret dump")

	opened, err := enc.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret dump"), opened)

	other, err := NewEncryptor(DeriveKey("wrong", nil))
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.Error(t, err)

	_, err = NewEncryptor([]byte("short"))
	assert.Error(t, err)
}

func TestNewEncryptorFromConfig(t *testing.T) {
	enc, err := NewEncryptorFromConfig(EncryptionConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, enc)

	t.Setenv("TEST_GUARDIAN_KEY", hex.EncodeToString(bytes.Repeat([]byte{7}, 32)))
	enc, err = NewEncryptorFromConfig(EncryptionConfig{Enabled: true, KeyEnvVar: "TEST_GUARDIAN_KEY"})
	require.NoError(t, err)
	assert.NotNil(t, enc)

	t.Setenv("TEST_GUARDIAN_KEY", "not-hex")
	_, err = NewEncryptorFromConfig(EncryptionConfig{Enabled: true, KeyEnvVar: "TEST_GUARDIAN_KEY"})
	assert.Error(t, err)

	_, err = NewEncryptorFromConfig(EncryptionConfig{Enabled: true, KeyEnvVar: "UNSET_GUARDIAN_KEY"})
	assert.Error(t, err)

	enc, err = NewEncryptorFromConfig(EncryptionConfig{Enabled: true, KeyEnvVar: "UNSET_GUARDIAN_KEY", Passphrase: "pw"})
	require.NoError(t, err)
	assert.NotNil(t, enc)
}

func TestObjectStore_EncodesAndDecodes(t *testing.T) {
	ctx := context.Background()
	backend := newTestLocalBackend(t)
	codec, err := NewCodec(CompressionConfig{Algorithm: CompressionZstd})
	require.NoError(t, err)
	enc, err := NewEncryptor(DeriveKey("pw", nil))
	require.NoError(t, err)

	store := NewObjectStore(backend, codec, enc)
	assert.Equal(t, ".zst", store.Extension())

	key := "restore-points/rp.json" + store.Extension()
	require.NoError(t, store.Put(ctx, key, []byte(`{"id":"rp"}`)))

	raw, err := backend.Get(ctx, key)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"id"`)

	decoded, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"rp"}`, string(decoded))
}

func TestObjectStore_CorruptIsNotFound(t *testing.T) {
	ctx := context.Background()
	backend := newTestLocalBackend(t)
	codec, err := NewCodec(CompressionConfig{Algorithm: CompressionGzip})
	require.NoError(t, err)
	store := NewObjectStore(backend, codec, nil)

	require.NoError(t, backend.Put(ctx, "blobs/aa/aa.gz", []byte("not gzip")))

	_, err = store.Get(ctx, "blobs/aa/aa.gz")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestConfig_DefaultsAndValidate(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()
	assert.Equal(t, ProviderLocal, cfg.Provider)
	assert.Equal(t, CompressionGzip, cfg.Compression.Algorithm)
	require.NotNil(t, cfg.Local)
	assert.NoError(t, cfg.Validate())

	bad := Config{Provider: "FTP", Compression: CompressionConfig{Algorithm: "RAR"}}
	err := bad.Validate()
	require.Error(t, err)
	var verrs apperrors.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)

	s3 := Config{Provider: ProviderS3}
	s3.SetDefaults()
	assert.Equal(t, "us-east-1", s3.S3.Region)
	assert.Error(t, s3.Validate())
}

func TestNewBackend_Local(t *testing.T) {
	cfg := Config{Provider: ProviderLocal, Local: &LocalConfig{BasePath: t.TempDir()}}
	backend, err := NewBackend(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalBackend{}, backend)

	_, err = NewBackend(context.Background(), Config{Provider: "TAPE"}, nil, nil)
	assert.Error(t, err)
}
