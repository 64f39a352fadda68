package portals

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/claimflow/pkg/browser/browsertest"
	"github.com/dukex/claimflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const portalURL = "https://portal.example.com"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openPage(t *testing.T, site browsertest.Site) *browsertest.Session {
	t.Helper()

	b := browsertest.New(site)
	s, err := b.Acquire(context.Background(), "test", 1)
	require.NoError(t, err)
	require.NoError(t, s.Navigate(context.Background(), portalURL))

	return s.(*browsertest.Session)
}

func TestResolve_OverlaysConfiguredSelectors(t *testing.T) {
	g := NewGeneric(testLogger())

	resolved := Resolve(g, models.Selectors{
		Password:    "#secret",
		ClaimFields: map[string]string{"amount": "#amt", "po_number": "#po"},
	})

	assert.Equal(t, "#secret", resolved.Password)
	assert.Equal(t, g.Defaults().Username, resolved.Username)
	assert.Equal(t, "#amt", resolved.ClaimFields["amount"])
	assert.Equal(t, "#po", resolved.ClaimFields["po_number"])
	assert.Equal(t, `input[name="trackingNumber"]`, resolved.ClaimFields["tracking_number"])

	// defaults are not shared with the resolved copy
	assert.NotEqual(t, "#amt", g.Defaults().ClaimFields["amount"])
}

func TestGeneric_VerifyLogin(t *testing.T) {
	g := NewGeneric(testLogger())
	g.loginTimeout = time.Second
	selectors := Resolve(g, models.Selectors{LoggedInMarker: "#dashboard", ErrorMessage: ".error"})

	t.Run("marker visible", func(t *testing.T) {
		s := openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{portalURL: {"#dashboard": "Welcome"}}})
		assert.True(t, g.VerifyLogin(context.Background(), s, selectors))
	})

	t.Run("marker missing", func(t *testing.T) {
		s := openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{portalURL: {"#other": ""}}})
		assert.False(t, g.VerifyLogin(context.Background(), s, selectors))
	})

	t.Run("error banner wins", func(t *testing.T) {
		s := openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{
			portalURL: {"#dashboard": "", ".error": "Invalid password"},
		}})
		assert.False(t, g.VerifyLogin(context.Background(), s, selectors))
	})

	t.Run("no marker falls back to login form gone", func(t *testing.T) {
		plain := Resolve(g, models.Selectors{Password: "#pw"})

		s := openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{portalURL: {"#home": ""}}})
		assert.True(t, g.VerifyLogin(context.Background(), s, plain))

		s = openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{portalURL: {"#pw": ""}}})
		assert.False(t, g.VerifyLogin(context.Background(), s, plain))
	})

	t.Run("no marker waits for the login page to go away", func(t *testing.T) {
		plain := Resolve(g, models.Selectors{Password: "#pw", ErrorMessage: ".error"})
		site := browsertest.Site{
			Pages:  map[string]browsertest.Page{portalURL: {"#pw": "", "#go": ""}},
			Clicks: map[string]browsertest.Page{"#go": {"#home": ""}},
			Delay:  100 * time.Millisecond,
		}

		s := openPage(t, site)
		require.NoError(t, s.Click(context.Background(), "#go"))
		assert.True(t, g.VerifyLogin(context.Background(), s, plain))

		site.Clicks["#go"] = browsertest.Page{"#pw": "", ".error": "Invalid password"}

		s = openPage(t, site)
		require.NoError(t, s.Click(context.Background(), "#go"))
		assert.False(t, g.VerifyLogin(context.Background(), s, plain))
	})

	t.Run("panic is false", func(t *testing.T) {
		s := openPage(t, browsertest.Site{
			Pages: map[string]browsertest.Page{portalURL: {"#dashboard": ""}},
			Panic: "#dashboard",
		})
		assert.False(t, g.VerifyLogin(context.Background(), s, selectors))
	})
}

func TestGeneric_FillClaimForm(t *testing.T) {
	g := NewGeneric(testLogger())
	selectors := Resolve(g, models.Selectors{ClaimFields: map[string]string{
		"tracking_number": "#tracking",
		"amount":          "#amount",
		"description":     "#desc",
		"shipment.weight": "#weight",
	}})

	page := browsertest.Page{"#tracking": "", "#amount": "", "#desc": "", "#weight": ""}

	t.Run("fills mapped values", func(t *testing.T) {
		s := openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{portalURL: page}})

		err := g.FillClaimForm(context.Background(), s, selectors, map[string]any{
			"tracking_number": "1Z999",
			"amount":          125.5,
			"shipment":        map[string]any{"weight": 12.0},
		})
		require.NoError(t, err)

		assert.Equal(t, "1Z999", s.Filled("#tracking"))
		assert.Equal(t, "125.5", s.Filled("#amount"))
		assert.Equal(t, "12", s.Filled("#weight"))
		assert.Empty(t, s.Filled("#desc"))
	})

	t.Run("missing element", func(t *testing.T) {
		s := openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{portalURL: {"#amount": ""}}})

		err := g.FillClaimForm(context.Background(), s, selectors, map[string]any{"tracking_number": "1Z999"})
		require.ErrorIs(t, err, ErrFormFillFailure)
		assert.Contains(t, err.Error(), "tracking_number")
	})

	t.Run("nothing to fill", func(t *testing.T) {
		s := openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{portalURL: page}})

		err := g.FillClaimForm(context.Background(), s, selectors, map[string]any{"unrelated": "x"})
		require.ErrorIs(t, err, ErrFormFillFailure)
	})
}

func TestGeneric_ExtractConfirmation(t *testing.T) {
	g := NewGeneric(testLogger())
	selectors := Resolve(g, models.Selectors{Confirmation: "#conf"})

	t.Run("from element", func(t *testing.T) {
		s := openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{
			portalURL: {"#conf": "Confirmation #: CNF-20931"},
		}})

		got, err := g.ExtractConfirmation(context.Background(), s, selectors)
		require.NoError(t, err)
		assert.Equal(t, "CNF-20931", got.ConfirmationNumber)
	})

	t.Run("from page text", func(t *testing.T) {
		s := openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{
			portalURL: {".msg": "Thank you. Your confirmation number: ABC12345. Claim number: 778899001"},
		}})

		got, err := g.ExtractConfirmation(context.Background(), s, selectors)
		require.NoError(t, err)
		assert.Equal(t, "ABC12345", got.ConfirmationNumber)
		assert.Equal(t, "778899001", got.ClaimNumber)
	})

	t.Run("configured pattern", func(t *testing.T) {
		custom := Resolve(g, models.Selectors{Confirmation: "#conf", ConfirmationRegexp: `Ticket (T\d+)`})
		s := openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{
			portalURL: {".msg": "Ticket T4411 created"},
		}})

		got, err := g.ExtractConfirmation(context.Background(), s, custom)
		require.NoError(t, err)
		assert.Equal(t, "T4411", got.ConfirmationNumber)
	})

	t.Run("not found", func(t *testing.T) {
		s := openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{portalURL: {".msg": "Something went wrong"}}})

		_, err := g.ExtractConfirmation(context.Background(), s, selectors)
		require.ErrorIs(t, err, ErrConfirmationExtraction)
	})
}

func TestGeneric_ExtractConfirmation_RejectsNonReferences(t *testing.T) {
	g := NewGeneric(testLogger())
	selectors := Resolve(g, models.Selectors{Confirmation: "#conf", ErrorMessage: ".error"})

	tests := []struct {
		name    string
		page    browsertest.Page
		want    string
		wantErr error
	}{
		{
			name:    "failure wording after the keyword",
			page:    browsertest.Page{".msg": "Confirmation failed, please try again later"},
			wantErr: ErrConfirmationExtraction,
		},
		{
			name:    "label without a number",
			page:    browsertest.Page{".msg": "Your confirmation number: pending"},
			wantErr: ErrConfirmationExtraction,
		},
		{
			name: "label word is not the number",
			page: browsertest.Page{".msg": "Confirmation number is ABC123"},
			want: "ABC123",
		},
		{
			name: "element without digits falls back to the page",
			page: browsertest.Page{"#conf": "Pending", ".msg": "Reference No. R-7781"},
			want: "R-7781",
		},
		{
			name:    "error banner vetoes a page match",
			page:    browsertest.Page{".error": "Submission rejected", ".msg": "Reference no. 12345"},
			wantErr: ErrConfirmationExtraction,
		},
		{
			name: "element wins over an error banner",
			page: browsertest.Page{"#conf": "CNF-5512", ".error": "Session expires soon"},
			want: "CNF-5512",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{portalURL: tt.page}})

			got, err := g.ExtractConfirmation(context.Background(), s, selectors)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ConfirmationNumber)
		})
	}
}

func TestDetectChallenge(t *testing.T) {
	g := NewGeneric(testLogger())
	selectors := Resolve(g, models.Selectors{Captcha: "#captcha", TwoFactor: "#otp"})
	config := &models.PortalConfig{}

	s := openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{portalURL: {"#captcha": ""}}})
	require.ErrorIs(t, DetectChallenge(context.Background(), s, config, selectors), ErrNeedsCaptcha)

	s = openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{portalURL: {"#otp": ""}}})
	require.ErrorIs(t, DetectChallenge(context.Background(), s, config, selectors), ErrNeeds2FA)

	s = openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{portalURL: {"#form": ""}}})
	require.NoError(t, DetectChallenge(context.Background(), s, config, selectors))

	// a captcha portal without a configured locator uses the default one
	s = openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{portalURL: {defaultCaptchaSelector: ""}}})
	noLocator := Resolve(g, models.Selectors{})
	require.ErrorIs(t, DetectChallenge(context.Background(), s, &models.PortalConfig{HasCaptcha: true}, noLocator), ErrNeedsCaptcha)
}

func TestFedEx_ClaimNumberIsConfirmation(t *testing.T) {
	f := NewFedEx(testLogger())
	selectors := Resolve(f, models.Selectors{})

	s := openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{
		portalURL: {".claim-summary__number": "Claim # 123456789012"},
	}})

	got, err := f.ExtractConfirmation(context.Background(), s, selectors)
	require.NoError(t, err)
	assert.Equal(t, "123456789012", got.ConfirmationNumber)
	assert.Equal(t, "123456789012", got.ClaimNumber)
}

func TestUPS_UsesDropDowns(t *testing.T) {
	u := NewUPS(testLogger())
	selectors := Resolve(u, models.Selectors{})

	s := openPage(t, browsertest.Site{
		Pages: map[string]browsertest.Page{portalURL: {
			"#trackingNumber": "", "#merchandiseValue": "", "#merchandiseDescription": "",
			"#claimReason": "", "#shipmentType": "",
		}},
	})

	err := u.FillClaimForm(context.Background(), s, selectors, map[string]any{
		"tracking_number": "1Z12345E0205271688",
		"amount":          "80",
		"reason":          "damaged",
	})
	require.NoError(t, err)

	assert.Equal(t, "DAMAGED", s.Filled("#claimReason"))
	assert.Equal(t, "80", s.Filled("#merchandiseValue"))
	assert.Empty(t, s.Filled("#shipmentType"))
}

func TestUPS_FillFailure(t *testing.T) {
	u := NewUPS(testLogger())
	selectors := Resolve(u, models.Selectors{})

	s := openPage(t, browsertest.Site{
		Pages:  map[string]browsertest.Page{portalURL: {"#claimReason": ""}},
		Errors: map[string]error{"#claimReason": errors.New("option not found")},
	})

	err := u.FillClaimForm(context.Background(), s, selectors, map[string]any{"reason": "lost"})
	require.ErrorIs(t, err, ErrFormFillFailure)
}

func TestUSPS_LoginFormMayRemain(t *testing.T) {
	u := NewUSPS(testLogger())
	selectors := Resolve(u, models.Selectors{})

	s := openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{
		portalURL: {"#password": "", "#account-menu": "My Account"},
	}})
	assert.True(t, u.VerifyLogin(context.Background(), s, selectors))

	s = openPage(t, browsertest.Site{Pages: map[string]browsertest.Page{
		portalURL: {"#password": "", ".error-message": "Locked"},
	}})
	assert.False(t, u.VerifyLogin(context.Background(), s, selectors))
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry(testLogger())

	assert.IsType(t, &FedEx{}, r.Get("FedEx"))
	assert.IsType(t, &UPS{}, r.Get(" ups "))
	assert.IsType(t, &USPS{}, r.Get("usps"))
	assert.IsType(t, &Generic{}, r.Get("acme-freight"))
	assert.Equal(t, []string{"fedex", "ups", "usps"}, r.Targets())

	custom := NewGeneric(testLogger())
	r.Register("acme-freight", custom)
	assert.Same(t, custom, r.Get("acme-freight"))
}
