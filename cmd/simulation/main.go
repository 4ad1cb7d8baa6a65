package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/trustbank/trade-api/internal/types"
)

const (
	serverAddress = "http://localhost:8080"
	apiKey        = "test-api-key"
	apiSecret     = "test-api-secret"
	webhookSecret = "trade-api-webhook-secret"
)

// init configures pretty logging for the simulation run.
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// simulationClient drives a full trade lifecycle against a running server:
// token, wallet funding, quote, trade creation, a signed webhook, and the
// final status read.
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
}

func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	if err := sc.authenticate(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *simulationClient) authenticate() error {
	var out struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	err := sc.post("/api/v1/auth/token", map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}, nil, &out)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	sc.authToken = out.Data.Token
	return nil
}

func (sc *simulationClient) fundWallet(amount float64) error {
	return sc.post(fmt.Sprintf("/api/v1/internal/wallets/%s/credit", apiKey), map[string]interface{}{
		"currency": types.FiatCurrency,
		"amount":   amount,
	}, nil, nil)
}

func (sc *simulationClient) getQuote(pair string, volume float64) (*types.Quote, error) {
	var out struct {
		Data types.Quote `json:"data"`
	}
	url := fmt.Sprintf("/api/v1/quotes?pair=%s&side=buy&volume=%f", pair, volume)
	if err := sc.get(url, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (sc *simulationClient) createTrade(quoteID string) (*types.Trade, error) {
	var out struct {
		Data types.Trade `json:"data"`
	}
	err := sc.post("/api/v1/trades", map[string]string{
		"quote_id":       quoteID,
		"payment_method": string(types.MethodWallet),
	}, map[string]string{"Idempotency-Key": uuid.New().String()}, &out)
	if err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// sendWebhook delivers a signed completion notification, the way the
// exchange would.
func (sc *simulationClient) sendWebhook(externalRef, status string) error {
	body, err := json.Marshal(map[string]string{
		"event":     "trade.status",
		"reference": externalRef,
		"status":    status,
	})
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(http.MethodPost, sc.baseURL+"/api/v1/webhooks/exchange", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Exchange-Signature", signature)

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery returned status %d", resp.StatusCode)
	}
	return nil
}

func (sc *simulationClient) getTrade(tradeID string) (*types.Trade, error) {
	var out struct {
		Data types.Trade `json:"data"`
	}
	if err := sc.get("/api/v1/trades/"+tradeID, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (sc *simulationClient) getWallet(currency string) (*types.Wallet, error) {
	var out struct {
		Data types.Wallet `json:"data"`
	}
	if err := sc.get("/api/v1/wallets/"+currency, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (sc *simulationClient) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, sc.baseURL+path, nil)
	if err != nil {
		return err
	}
	return sc.do(req, out)
}

func (sc *simulationClient) post(path string, body interface{}, headers map[string]string, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, sc.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return sc.do(req, out)
}

func (sc *simulationClient) do(req *http.Request, out interface{}) error {
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: status %d (%s: %s)",
			req.Method, req.URL.Path, resp.StatusCode, apiErr.Error.Code, apiErr.Error.Message)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func main() {
	sc, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create simulation client")
	}
	log.Info().Msg("authenticated")

	if err := sc.fundWallet(200_000); err != nil {
		log.Fatal().Err(err).Msg("failed to fund wallet")
	}
	before, err := sc.getWallet(types.FiatCurrency)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read wallet")
	}
	log.Info().Float64("balance", before.Balance).Msg("wallet funded")

	quote, err := sc.getQuote("btc_ngn", 0.001)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get quote")
	}
	log.Info().
		Str("quote_id", quote.QuoteID).
		Float64("rate", quote.Rate).
		Float64("total", quote.Total).
		Time("expires_at", quote.ExpiresAt).
		Msg("quote locked")

	trade, err := sc.createTrade(quote.QuoteID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create trade")
	}
	log.Info().
		Str("trade_id", trade.TradeID).
		Str("status", string(trade.Status)).
		Msg("trade created and submitted")

	if trade.ExternalReference == nil {
		log.Fatal().Msg("trade has no external reference")
	}

	if err := sc.sendWebhook(*trade.ExternalReference, "completed"); err != nil {
		log.Fatal().Err(err).Msg("failed to deliver webhook")
	}

	final, err := sc.getTrade(trade.TradeID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read trade")
	}
	after, err := sc.getWallet(types.FiatCurrency)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read wallet")
	}

	log.Info().
		Str("trade_id", final.TradeID).
		Str("status", string(final.Status)).
		Float64("balance_before", before.Balance).
		Float64("balance_after", after.Balance).
		Float64("pending_balance", after.PendingBalance).
		Msg("trade lifecycle complete")
}
