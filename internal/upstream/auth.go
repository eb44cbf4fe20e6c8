package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// CountryCode is prefixed to subscriber numbers before they are encoded.
const CountryCode = "+91"

// LoginResponse is the vendor's answer to a verified OTP.
type LoginResponse struct {
	AuthToken         string `json:"authToken"`
	RefreshToken      string `json:"refreshToken"`
	SSOToken          string `json:"ssoToken"`
	JToken            string `json:"jToken"`
	DeviceID          string `json:"deviceId"`
	SessionAttributes struct {
		User struct {
			UID          string `json:"uid"`
			Unique       string `json:"unique"`
			SubscriberID string `json:"subscriberId"`
		} `json:"user"`
	} `json:"sessionAttributes"`
}

func encodeNumber(phone string) string {
	return base64.StdEncoding.EncodeToString([]byte(CountryCode + phone))
}

// SendOTP asks the vendor to text a one-time code to phone. The vendor
// answers 204 on success.
func (c *Client) SendOTP(ctx context.Context, h http.Header, phone string) error {
	const op = "send otp"
	payload, _ := json.Marshal(map[string]string{"number": encodeNumber(phone)})
	req, err := newJSONRequest(ctx, c.endpoints.SendOTP, h, payload)
	if err != nil {
		return unavailable(op, c.endpoints.SendOTP, 0, err)
	}
	_, status, err := c.doStatus(op, req)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return badResponse(op, c.endpoints.SendOTP, fmt.Errorf("expected HTTP 204, got %d", status))
	}
	return nil
}

type verifyRequest struct {
	Number     string     `json:"number"`
	OTP        string     `json:"otp"`
	DeviceInfo deviceInfo `json:"deviceInfo"`
}

type deviceInfo struct {
	ConsumptionDeviceName string `json:"consumptionDeviceName"`
	Info                  struct {
		Type     string `json:"type"`
		Platform struct {
			Name string `json:"name"`
		} `json:"platform"`
		AndroidID string `json:"androidId"`
	} `json:"info"`
}

const consumptionDevice = "RMX1945"

// VerifyOTP exchanges phone and otp for a session. androidID identifies this
// relay as a device to the vendor. A response without an SSO token is
// reported as ErrLoginRejected.
func (c *Client) VerifyOTP(ctx context.Context, h http.Header, phone, otp, androidID string) (LoginResponse, error) {
	const op = "verify otp"
	body := verifyRequest{Number: encodeNumber(phone), OTP: otp}
	body.DeviceInfo.ConsumptionDeviceName = consumptionDevice
	body.DeviceInfo.Info.Type = "android"
	body.DeviceInfo.Info.Platform.Name = consumptionDevice
	body.DeviceInfo.Info.AndroidID = androidID

	payload, err := json.Marshal(body)
	if err != nil {
		return LoginResponse{}, err
	}
	req, err := newJSONRequest(ctx, c.endpoints.VerifyOTP, h, payload)
	if err != nil {
		return LoginResponse{}, unavailable(op, c.endpoints.VerifyOTP, 0, err)
	}
	raw, err := c.do(op, req)
	if err != nil {
		return LoginResponse{}, err
	}

	var resp LoginResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return LoginResponse{}, badResponse(op, c.endpoints.VerifyOTP, err)
	}
	if resp.SSOToken == "" {
		return LoginResponse{}, &Error{Sentinel: ErrLoginRejected, Op: op, URL: c.endpoints.VerifyOTP}
	}
	return resp, nil
}

type refreshRequest struct {
	AppName      string `json:"appName"`
	DeviceID     string `json:"deviceId"`
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AuthToken string `json:"authToken"`
}

// RefreshAccessToken trades refreshToken for a new access token.
func (c *Client) RefreshAccessToken(ctx context.Context, h http.Header, deviceID, refreshToken string) (string, error) {
	const op = "refresh token"
	payload, err := json.Marshal(refreshRequest{AppName: "RJIL_JioTV", DeviceID: deviceID, RefreshToken: refreshToken})
	if err != nil {
		return "", err
	}
	req, err := newJSONRequest(ctx, c.endpoints.RefreshToken, h, payload)
	if err != nil {
		return "", unavailable(op, c.endpoints.RefreshToken, 0, err)
	}
	raw, err := c.do(op, req)
	if err != nil {
		return "", err
	}

	var resp refreshResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", badResponse(op, c.endpoints.RefreshToken, err)
	}
	if resp.AuthToken == "" {
		return "", badResponse(op, c.endpoints.RefreshToken, fmt.Errorf("no authToken in response"))
	}
	return resp.AuthToken, nil
}
