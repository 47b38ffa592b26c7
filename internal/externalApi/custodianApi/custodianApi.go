package custodianApi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/piq110/capcore-backend-sub001/config"
	"github.com/piq110/capcore-backend-sub001/internal/metrics"
	"github.com/piq110/capcore-backend-sub001/internal/externalApi"
	"github.com/piq110/capcore-backend-sub001/internal/model/custodianModel"
	"github.com/piq110/capcore-backend-sub001/utils"
)

// CustodianApi is the pass-through client for the custodian's RPC surface.
// No retries here: transient failures map to sentinel errors and the
// monitor's next sweep retries.
type CustodianApi struct {
	client    *resty.Client
	apiSecret string
}

func New(cfg *config.Config) *CustodianApi {
	client := resty.New().
		SetDebug(cfg.Custodian.Debug).
		SetTimeout(cfg.Custodian.Timeout).
		SetBaseURL(cfg.Custodian.Url).
		SetHeader("X-Api-Key", cfg.Custodian.ApiKey)
	return &CustodianApi{client: client, apiSecret: cfg.Custodian.ApiSecret}
}

// sign produces the HMAC-SHA256 the custodian expects over
// timestamp + method + path + body.
func (a *CustodianApi) sign(method, path string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *CustodianApi) post(ctx context.Context, path string, body any, out any) error {
	rqID := utils.GetRequestIDFromCtx(ctx)

	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Timestamp", timestamp).
		SetHeader("X-Signature", a.sign(http.MethodPost, path, raw, timestamp)).
		SetBody(raw).
		Post(path)

	if err != nil {
		slog.Error("error while dialing custodian", slog.String("err", err.Error()), slog.String("rqID", rqID), slog.String("path", path))
		return mapTransportErr(err)
	}

	if err := checkStatus(resp); err != nil {
		slog.Error("custodian returned error status", slog.Int("status", resp.StatusCode()), slog.String("rqID", rqID), slog.String("path", path))
		return err
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		slog.Error("can't unmarshall custodian response", slog.String("err", err.Error()), slog.String("rqID", rqID), slog.String("path", path))
		return err
	}

	return nil
}

func (a *CustodianApi) get(ctx context.Context, path string, params map[string]string, out any) error {
	rqID := utils.GetRequestIDFromCtx(ctx)

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("X-Timestamp", timestamp).
		SetHeader("X-Signature", a.sign(http.MethodGet, path, nil, timestamp)).
		SetQueryParams(params).
		Get(path)

	if err != nil {
		slog.Error("error while dialing custodian", slog.String("err", err.Error()), slog.String("rqID", rqID), slog.String("path", path))
		return mapTransportErr(err)
	}

	if err := checkStatus(resp); err != nil {
		slog.Error("custodian returned error status", slog.Int("status", resp.StatusCode()), slog.String("rqID", rqID), slog.String("path", path))
		return err
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		slog.Error("can't unmarshall custodian response", slog.String("err", err.Error()), slog.String("rqID", rqID), slog.String("path", path))
		return err
	}

	return nil
}

func observeDuration(call string, start time.Time) {
	metrics.CustodianRequestDuration.WithLabelValues(call).Observe(time.Since(start).Seconds())
}

func mapTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return externalApi.ErrCustodianTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return externalApi.ErrCustodianTimeout
	}
	return externalApi.ErrCustodianUnavailable
}

func checkStatus(resp *resty.Response) error {
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return externalApi.ErrNotFound
	case resp.StatusCode() >= http.StatusInternalServerError:
		return externalApi.ErrCustodianUnavailable
	case resp.StatusCode() >= http.StatusBadRequest:
		return fmt.Errorf("custodian rejected request: status %d: %s", resp.StatusCode(), resp.Body())
	}
	return nil
}

func (a *CustodianApi) Initiate(ctx context.Context, req custodianModel.TransferRequest) (custodianModel.InitiateResult, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	defer observeDuration("initiate", time.Now())
	slog.Debug("start CustodianApi.Initiate request", slog.String("rqID", rqID), slog.String("transferID", req.TransferID))

	res := custodianModel.InitiateResult{}
	if err := a.post(ctx, "/v1/transfers", req, &res); err != nil {
		return custodianModel.InitiateResult{}, err
	}

	slog.Debug("CustodianApi.Initiate request complete", slog.String("rqID", rqID), slog.String("reference", res.CustodianReference))

	return res, nil
}

func (a *CustodianApi) Submit(ctx context.Context, reference string) (custodianModel.SubmitResult, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	defer observeDuration("submit", time.Now())
	slog.Debug("start CustodianApi.Submit request", slog.String("rqID", rqID), slog.String("reference", reference))

	res := custodianModel.SubmitResult{}
	if err := a.post(ctx, fmt.Sprintf("/v1/transfers/%s/submit", reference), nil, &res); err != nil {
		return custodianModel.SubmitResult{}, err
	}

	slog.Debug("CustodianApi.Submit request complete", slog.String("rqID", rqID), slog.String("status", res.Status))

	return res, nil
}

func (a *CustodianApi) PollStatus(ctx context.Context, reference string) (custodianModel.StatusResult, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	defer observeDuration("poll_status", time.Now())
	slog.Debug("start CustodianApi.PollStatus request", slog.String("rqID", rqID), slog.String("reference", reference))

	res := custodianModel.StatusResult{}
	if err := a.get(ctx, fmt.Sprintf("/v1/transfers/%s/status", reference), nil, &res); err != nil {
		return custodianModel.StatusResult{}, err
	}

	slog.Debug("CustodianApi.PollStatus request complete", slog.String("rqID", rqID), slog.String("status", res.Status))

	return res, nil
}

// Confirm is idempotent on the custodian side: confirming an already
// confirmed reference is a no-op success.
func (a *CustodianApi) Confirm(ctx context.Context, reference string) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	defer observeDuration("confirm", time.Now())
	slog.Debug("start CustodianApi.Confirm request", slog.String("rqID", rqID), slog.String("reference", reference))

	if err := a.post(ctx, fmt.Sprintf("/v1/transfers/%s/confirm", reference), nil, nil); err != nil {
		return err
	}

	slog.Debug("CustodianApi.Confirm request complete", slog.String("rqID", rqID))

	return nil
}

// Settle is idempotent, same contract as Confirm.
func (a *CustodianApi) Settle(ctx context.Context, reference string) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	defer observeDuration("settle", time.Now())
	slog.Debug("start CustodianApi.Settle request", slog.String("rqID", rqID), slog.String("reference", reference))

	if err := a.post(ctx, fmt.Sprintf("/v1/transfers/%s/settle", reference), nil, nil); err != nil {
		return err
	}

	slog.Debug("CustodianApi.Settle request complete", slog.String("rqID", rqID))

	return nil
}

func (a *CustodianApi) GetBalances(ctx context.Context, accountFilter string) ([]custodianModel.Balance, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	defer observeDuration("get_balances", time.Now())
	slog.Debug("start CustodianApi.GetBalances request", slog.String("rqID", rqID), slog.String("accountFilter", accountFilter))

	params := map[string]string{}
	if accountFilter != "" {
		params["account"] = accountFilter
	}

	var res []custodianModel.Balance
	if err := a.get(ctx, "/v1/balances", params, &res); err != nil {
		return nil, err
	}

	slog.Debug("CustodianApi.GetBalances request complete", slog.String("rqID", rqID), slog.Int("count", len(res)))

	return res, nil
}
