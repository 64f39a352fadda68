package vault

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dukex/claimflow/pkg/models"
	"github.com/dukex/claimflow/pkg/persistence"
	"github.com/dukex/claimflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) CheckLogin(ctx context.Context, target string, credentials models.Credentials) (bool, error) {
	args := m.Called(ctx, target, credentials)

	return args.Bool(0), args.Error(1)
}

func testKey() []byte {
	return bytes.Repeat([]byte{7}, KeySize)
}

func newTestVault(t *testing.T, checker LoginChecker) (*Vault, persistence.CredentialRepository, *clocktesting.FakePassiveClock) {
	t.Helper()

	cipher, err := NewCipher(testKey())
	require.NoError(t, err)

	repo := file.NewPersistence(t.TempDir()).CredentialRepository()
	clk := clocktesting.NewFakePassiveClock(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	return New(cipher, repo, checker, clk, logger), repo, clk
}

func TestNewCipher_KeySize(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	require.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = NewCipherFromBase64("not base64!")
	require.Error(t, err)

	_, err = NewCipherFromBase64("BwcHBwcHBwcHBwcHBwcHBwcHBwcHBwcHBwcHBwcHBwc=")
	require.NoError(t, err)
}

func TestCipher_SealIsRandomised(t *testing.T) {
	cipher, err := NewCipher(testKey())
	require.NoError(t, err)

	a, err := cipher.Seal("secret")
	require.NoError(t, err)

	b, err := cipher.Seal("secret")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "secret")
}

func TestCipher_OpenRejectsTampering(t *testing.T) {
	cipher, err := NewCipher(testKey())
	require.NoError(t, err)

	sealed, err := cipher.Seal("secret")
	require.NoError(t, err)

	tampered := []byte(sealed)
	if tampered[10] == 'A' {
		tampered[10] = 'B'
	} else {
		tampered[10] = 'A'
	}

	_, err = cipher.Open(string(tampered))
	require.ErrorIs(t, err, ErrVaultDecryption)

	_, err = cipher.Open("c2hvcnQ=")
	require.ErrorIs(t, err, ErrVaultDecryption)

	other, err := NewCipher(bytes.Repeat([]byte{9}, KeySize))
	require.NoError(t, err)

	_, err = other.Open(sealed)
	require.ErrorIs(t, err, ErrVaultDecryption)
}

func TestVault_RoundTrip(t *testing.T) {
	inputs := []StoreRequest{
		{Target: "fedex", Username: "ops@example.com", Password: "hunter2", AccountNumber: "123456"},
		{Target: "ups", Username: "a:b|c", Password: "p:a:s:s", AccountNumber: "::"},
		{Target: "usps", Username: "ünïcødé 名前", Password: strings.Repeat("x", 4096)},
		{Target: "fedex", Username: "user\x00with\x00nul", Password: "line\nbreak"},
		{Target: "ups", Username: "", Password: ""},
		{Target: "usps", Username: "pin-only", Password: "", AccountNumber: "0042"},
	}

	v, _, _ := newTestVault(t, nil)
	ctx := context.Background()

	for _, in := range inputs {
		stored, err := v.StoreCredentials(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, models.ValidationNeedsVerification, stored.ValidationStatus)
		assert.NotEqual(t, in.Username, stored.Username)

		plain, err := v.GetCredentials(ctx, stored.ID)
		require.NoError(t, err)
		assert.Equal(t, in.Username, plain.Username)
		assert.Equal(t, in.Password, plain.Password)
		assert.Equal(t, in.AccountNumber, plain.AccountNumber)
	}
}

func TestVault_FieldsDecryptIndependently(t *testing.T) {
	v, repo, _ := newTestVault(t, nil)
	ctx := context.Background()

	stored, err := v.StoreCredentials(ctx, StoreRequest{Target: "ups", Username: "u", Password: "p", AccountNumber: "a"})
	require.NoError(t, err)

	credential, err := repo.GetByID(ctx, stored.ID)
	require.NoError(t, err)

	password, err := v.cipher.Open(credential.Password)
	require.NoError(t, err)
	assert.Equal(t, "p", password)

	credential.Username = "garbage"
	require.NoError(t, repo.Save(ctx, credential))

	_, err = v.GetCredentials(ctx, stored.ID)
	require.ErrorIs(t, err, ErrVaultDecryption)
}

func TestVault_StoreValidates(t *testing.T) {
	v, _, _ := newTestVault(t, nil)

	_, err := v.StoreCredentials(context.Background(), StoreRequest{Username: "u", Password: "p"})
	require.Error(t, err)
}

func TestVault_TestCredentials(t *testing.T) {
	checker := &mockChecker{}
	v, repo, clk := newTestVault(t, checker)
	ctx := context.Background()

	good, err := v.StoreCredentials(ctx, StoreRequest{Target: "fedex", Username: "good", Password: "pw"})
	require.NoError(t, err)

	bad, err := v.StoreCredentials(ctx, StoreRequest{Target: "fedex", Username: "bad", Password: "pw"})
	require.NoError(t, err)

	checker.On("CheckLogin", mock.Anything, "fedex", models.Credentials{Username: "good", Password: "pw"}).Return(true, nil)
	checker.On("CheckLogin", mock.Anything, "fedex", models.Credentials{Username: "bad", Password: "pw"}).Return(false, nil)

	status, err := v.TestCredentials(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ValidationValid, status)

	status, err = v.TestCredentials(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ValidationInvalid, status)

	stored, err := repo.GetByID(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ValidationValid, stored.ValidationStatus)
	require.NotNil(t, stored.LastValidated)
	assert.True(t, stored.LastValidated.Equal(clk.Now()))

	checker.AssertExpectations(t)
}

func TestVault_TestCredentialsBrowserError(t *testing.T) {
	checker := &mockChecker{}
	v, repo, _ := newTestVault(t, checker)
	ctx := context.Background()

	stored, err := v.StoreCredentials(ctx, StoreRequest{Target: "ups", Username: "u", Password: "p"})
	require.NoError(t, err)

	checker.On("CheckLogin", mock.Anything, "ups", mock.Anything).Return(false, errors.New("browser unavailable"))

	_, err = v.TestCredentials(ctx, stored.ID)
	require.Error(t, err)

	unchanged, err := repo.GetByID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ValidationNeedsVerification, unchanged.ValidationStatus)
}

func TestVault_ListAndDelete(t *testing.T) {
	v, _, _ := newTestVault(t, nil)
	ctx := context.Background()

	stored, err := v.StoreCredentials(ctx, StoreRequest{Target: "usps", AccountName: "Main", Username: "shipping", Password: "pw"})
	require.NoError(t, err)

	summaries, err := v.ListCredentials(ctx, "usps")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "s*******", summaries[0].MaskedUsername)
	assert.Empty(t, summaries[0].Password)

	require.NoError(t, v.DeleteCredential(ctx, stored.ID))

	_, err = v.GetCredentials(ctx, stored.ID)
	assert.True(t, persistence.IsCredentialNotFound(err))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "****", Mask(""))
	assert.Equal(t, "****", Mask("a"))
	assert.Equal(t, "a**", Mask("abc"))
	assert.Equal(t, "a********", Mask("abcdefghijklmnop"))
}
