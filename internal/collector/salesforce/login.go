package salesforce

import (
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/canectors/cdp-inventory/internal/errhandling"
	"github.com/canectors/cdp-inventory/internal/httpclient"
	"github.com/canectors/cdp-inventory/internal/logger"
)

const partnerNamespace = "urn:partner.soap.sforce.com"

type session struct {
	sessionID   string
	instanceURL string
}

type loginRequest struct {
	XMLName xml.Name `xml:"env:Envelope"`
	EnvNS   string   `xml:"xmlns:env,attr"`
	Body    struct {
		Login struct {
			NS       string `xml:"xmlns,attr"`
			Username string `xml:"username"`
			Password string `xml:"password"`
		} `xml:"login"`
	} `xml:"env:Body"`
}

type loginResponse struct {
	Body struct {
		LoginResponse struct {
			Result struct {
				ServerURL string `xml:"serverUrl"`
				SessionID string `xml:"sessionId"`
			} `xml:"result"`
		} `xml:"loginResponse"`
		Fault soapFault `xml:"Fault"`
	} `xml:"Body"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

// loginURL returns the SOAP login endpoint of domain ("login", "test" or a
// My Domain prefix).
func (c *Collector) loginURL(domain string) string {
	base := c.settings.BaseURL(Platform, "https://"+domain+".salesforce.com")
	return strings.TrimRight(base, "/") + "/services/Soap/u/" + APIVersion
}

// login opens a session. Rejected credentials are validation errors.
func (c *Collector) login(ctx context.Context, username, password, token, domain string) (*session, error) {
	var req loginRequest
	req.EnvNS = "http://schemas.xmlsoap.org/soap/envelope/"
	req.Body.Login.NS = partnerNamespace
	req.Body.Login.Username = username
	req.Body.Login.Password = password + token

	payload, err := xml.Marshal(req)
	if err != nil {
		return nil, errhandling.NewUnexpectedError("encoding Salesforce login request", err)
	}
	payload = append([]byte(xml.Header), payload...)

	// Login faults are returned as 500; they are never transient.
	settings := c.settings
	settings.Retry = errhandling.NoRetry()
	client := httpclient.New(DisplayName, c.loginURL(domain), settings,
		httpclient.WithHeader("SOAPAction", "login"),
		httpclient.WithHeader("Accept", "text/xml"),
		httpclient.WithLogger(logger.FromContext(ctx)),
	)

	body, err := client.Do(ctx, http.MethodPost, "", nil, payload, "text/xml; charset=UTF-8")
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			if fault := parseFault(statusErr.Body); fault != nil {
				return nil, errhandling.NewAuthenticationError(statusErr.StatusCode,
					"Salesforce authentication failed: "+fault.String, err)
			}
		}
		return nil, err
	}

	var resp loginResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, errhandling.NewUnexpectedError("Salesforce returned an unexpected login response", err)
	}
	if resp.Body.Fault.String != "" {
		return nil, errhandling.NewAuthenticationError(0, "Salesforce authentication failed: "+resp.Body.Fault.String, nil)
	}

	result := resp.Body.LoginResponse.Result
	if result.SessionID == "" || result.ServerURL == "" {
		return nil, errhandling.NewUnexpectedError("Salesforce login response has no session", nil)
	}
	server, err := url.Parse(result.ServerURL)
	if err != nil || server.Host == "" {
		return nil, errhandling.NewUnexpectedError("Salesforce login response has an invalid serverUrl", err)
	}

	return &session{
		sessionID:   result.SessionID,
		instanceURL: server.Scheme + "://" + server.Host,
	}, nil
}

func parseFault(body []byte) *soapFault {
	var resp loginResponse
	if err := xml.Unmarshal(body, &resp); err != nil || resp.Body.Fault.String == "" {
		return nil
	}
	return &resp.Body.Fault
}
