package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPSink posts codes to an SMS gateway. 5xx and transport errors are retried
// with exponential backoff; 4xx responses are not.
type HTTPSink struct {
	url        string
	client     *http.Client
	newBackOff func() backoff.BackOff
}

func NewHTTPSink(url string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 200 * time.Millisecond
			bo.MaxElapsedTime = 3 * time.Second
			return bo
		},
	}
}

type gatewayRequest struct {
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
	Code        string `json:"code"`
}

func (s *HTTPSink) Send(ctx context.Context, phone, code string) error {
	body, err := json.Marshal(gatewayRequest{
		PhoneNumber: phone,
		Message:     fmt.Sprintf("Your verification code is %s", code),
		Code:        code,
	})
	if err != nil {
		return fmt.Errorf("delivery.HTTPSink: marshal: %w", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		res, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		_, _ = io.Copy(io.Discard, res.Body)

		switch {
		case res.StatusCode >= 500:
			return fmt.Errorf("sms gateway error: %d", res.StatusCode)
		case res.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("sms gateway rejected request: %d", res.StatusCode))
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(s.newBackOff(), ctx)); err != nil {
		return fmt.Errorf("delivery.HTTPSink: %w", err)
	}
	return nil
}
