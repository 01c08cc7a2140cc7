package analytics

import (
	"context"
	"errors"
	"net"
	"net/url"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"

	"github.com/canectors/cdp-inventory/internal/collector"
	"github.com/canectors/cdp-inventory/internal/errhandling"
	"github.com/canectors/cdp-inventory/internal/pathutil"
)

// ReadOnlyScope is the OAuth scope requested for the Data API.
const ReadOnlyScope = "https://www.googleapis.com/auth/analytics.readonly"

// serviceAccountKey returns the service-account JSON of conn, read from
// service_account_info or from the service_account_file path.
func serviceAccountKey(conn collector.Connection) ([]byte, error) {
	if info := conn.String("service_account_info"); info != "" {
		return []byte(info), nil
	}
	path := conn.String("service_account_file")
	if path == "" {
		return nil, errhandling.Validationf("Either service_account_info or service_account_file must be provided for GA4.")
	}
	path, err := pathutil.Resolve(path)
	if err != nil {
		return nil, errhandling.NewValidationError("invalid service_account_file: "+err.Error(), err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errhandling.NewValidationError("cannot read service_account_file: "+err.Error(), err)
	}
	return data, nil
}

// accessToken exchanges a signed JWT assertion for an access token. The
// exchange uses the HTTP client of settings.
func accessToken(ctx context.Context, settings collector.Settings, key []byte) (string, error) {
	var conf *jwt.Config
	conf, err := google.JWTConfigFromJSON(key, ReadOnlyScope)
	if err != nil {
		return "", errhandling.NewValidationError("invalid Google service account credential: "+err.Error(), err)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, settings.Client())
	token, err := conf.TokenSource(ctx).Token()
	if err != nil {
		return "", classifyTokenError(err)
	}
	return token.AccessToken, nil
}

func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		detail := retrieveErr.ErrorDescription
		if detail == "" {
			detail = retrieveErr.ErrorCode
		}
		if detail == "" {
			detail = strings.TrimSpace(string(retrieveErr.Body))
		}
		if status >= 500 {
			return errhandling.ClassifyHTTPStatus(status, detail)
		}
		return errhandling.NewAuthenticationError(status, "Google Analytics authentication failed: "+detail, err)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errhandling.ClassifyNetworkError(err)
	}

	// Key parsing and signing failures.
	return errhandling.NewValidationError("invalid Google service account credential: "+err.Error(), err)
}
