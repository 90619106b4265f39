// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

// Package provider is the typed client for the connectivity provider's
// management API. Every operation validates its input before any network
// call, delegates the HTTP exchange to the request executor and decodes the
// JSON payload into models.
package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tomtom215/simsync/internal/executor"
	"github.com/tomtom215/simsync/internal/models"
	"github.com/tomtom215/simsync/internal/validation"
)

const (
	apiPrefix = "/management-api/v1"

	// DefaultPageSize is used when a listing asks for page size 0.
	DefaultPageSize = 100
	// MaxPageSize is the largest page the provider serves.
	MaxPageSize = 1000
	// MaxSMSLength is the single-segment SMS limit in characters.
	MaxSMSLength = 160
)

// Requester executes provider requests. *executor.Executor implements it.
type Requester interface {
	Execute(ctx context.Context, spec executor.RequestSpec) (*executor.Response, error)
}

// Client is the provider management API client.
type Client struct {
	exec             Requester
	defaultThreshold int
	now              func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithDefaultThreshold sets the threshold percentage applied to quotas the
// provider reports without one.
func WithDefaultThreshold(pct int) Option {
	return func(c *Client) { c.defaultThreshold = pct }
}

// WithNowFunc replaces the clock used to stamp fetched snapshots.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client on top of exec.
func New(exec Requester, opts ...Option) *Client {
	c := &Client{exec: exec, defaultThreshold: 90, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type listSIMsInput struct {
	Page     int    `json:"page" validate:"gte=1"`
	PageSize int    `json:"pageSize" validate:"gte=1,lte=1000"`
	ICCID    string `json:"iccid" validate:"omitempty,iccid"`
	IMSI     string `json:"imsi" validate:"omitempty,numeric,min=6,max=15"`
}

// ListSIMs returns one page of the SIM inventory. Page is 1-based; a zero
// pageSize means DefaultPageSize.
func (c *Client) ListSIMs(ctx context.Context, page, pageSize int, filters models.SimFilters) (*models.SimPage, error) {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	in := listSIMsInput{
		Page:     page,
		PageSize: pageSize,
		ICCID:    validation.NormalizeICCID(filters.ICCID),
		IMSI:     filters.IMSI,
	}
	if verr := validation.ValidateStruct(&in); verr != nil {
		return nil, verr.ToAPIErr()
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(in.Page))
	q.Set("pageSize", strconv.Itoa(in.PageSize))
	if in.ICCID != "" {
		q.Set("iccid", in.ICCID)
	}
	if in.IMSI != "" {
		q.Set("imsi", in.IMSI)
	}

	resp, err := c.exec.Execute(ctx, executor.RequestSpec{
		Class:  executor.ClassSIMs,
		Method: http.MethodGet,
		Path:   apiPrefix + "/sims",
		Query:  q,
	})
	if err != nil {
		return nil, err
	}
	return decodeSIMPage(resp, in.Page, in.PageSize)
}

// GetSIM returns a single SIM.
func (c *Client) GetSIM(ctx context.Context, iccid string) (*models.SimRecord, error) {
	iccid, err := validation.ValidateICCID(iccid)
	if err != nil {
		return nil, err
	}
	resp, err := c.exec.Execute(ctx, executor.RequestSpec{
		Class:  executor.ClassSIMs,
		Method: http.MethodGet,
		Path:   simPath(iccid, ""),
	})
	if err != nil {
		return nil, err
	}
	var p simPayload
	if err := resp.Decode(&p); err != nil {
		return nil, err
	}
	sim := p.toModel()
	if sim.ICCID == "" {
		sim.ICCID = iccid
	}
	return &sim, nil
}

type usageInput struct {
	ICCID string    `json:"iccid" validate:"iccid"`
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date" validate:"gtefield=Start"`
}

// GetUsage returns the usage samples of one SIM inside window, ordered by
// timestamp.
func (c *Client) GetUsage(ctx context.Context, iccid string, window models.Window) ([]models.UsageSample, error) {
	in := usageInput{ICCID: validation.NormalizeICCID(iccid), Start: window.Start, End: window.End}
	if verr := validation.ValidateStruct(&in); verr != nil {
		return nil, verr.ToAPIErr()
	}

	q := url.Values{}
	q.Set("startDate", in.Start.UTC().Format(time.RFC3339))
	q.Set("endDate", in.End.UTC().Format(time.RFC3339))

	resp, err := c.exec.Execute(ctx, executor.RequestSpec{
		Class:  executor.ClassUsage,
		Method: http.MethodGet,
		Path:   simPath(in.ICCID, "/usage"),
		Query:  q,
	})
	if err != nil {
		return nil, err
	}
	return decodeUsage(resp, in.ICCID)
}

type quotaInput struct {
	ICCID string `json:"iccid" validate:"iccid"`
	Type  string `json:"quota_type" validate:"quotatype"`
}

// GetQuota returns the current allowance snapshot for one quota type.
func (c *Client) GetQuota(ctx context.Context, iccid string, qt models.QuotaType) (*models.QuotaState, error) {
	in := quotaInput{ICCID: validation.NormalizeICCID(iccid), Type: string(qt)}
	if verr := validation.ValidateStruct(&in); verr != nil {
		return nil, verr.ToAPIErr()
	}

	resp, err := c.exec.Execute(ctx, executor.RequestSpec{
		Class:  executor.ClassQuota,
		Method: http.MethodGet,
		Path:   simPath(in.ICCID, "/quota/"+in.Type),
	})
	if err != nil {
		return nil, err
	}
	var p quotaPayload
	if err := resp.Decode(&p); err != nil {
		return nil, err
	}
	return p.toModel(in.ICCID, qt, c.defaultThreshold, c.now()), nil
}

type topUpInput struct {
	ICCID  string `json:"iccid" validate:"iccid"`
	Type   string `json:"quota_type" validate:"quotatype"`
	Volume int64  `json:"volume" validate:"gte=0"`
}

// TopUp adds volume to a SIM's allowance.
func (c *Client) TopUp(ctx context.Context, iccid string, qt models.QuotaType, volume int64) error {
	in := topUpInput{ICCID: validation.NormalizeICCID(iccid), Type: string(qt), Volume: volume}
	if verr := validation.ValidateStruct(&in); verr != nil {
		return verr.ToAPIErr()
	}
	_, err := c.exec.Execute(ctx, executor.RequestSpec{
		Class:  executor.ClassTopUp,
		Method: http.MethodPost,
		Path:   simPath(in.ICCID, "/quota/"+in.Type+"/topup"),
		Body:   topUpRequest{Volume: in.Volume},
	})
	return err
}

type smsInput struct {
	ICCID       string `json:"iccid" validate:"iccid"`
	Message     string `json:"message" validate:"min=1,max=160"`
	Destination string `json:"destination" validate:"omitempty,msisdn"`
}

// SendSMS submits a mobile-terminated SMS to a SIM.
func (c *Client) SendSMS(ctx context.Context, iccid, message, destination string) (*models.SMSMessage, error) {
	in := smsInput{ICCID: validation.NormalizeICCID(iccid), Message: message, Destination: destination}
	if verr := validation.ValidateStruct(&in); verr != nil {
		return nil, verr.ToAPIErr()
	}

	resp, err := c.exec.Execute(ctx, executor.RequestSpec{
		Class:  executor.ClassSMS,
		Method: http.MethodPost,
		Path:   simPath(in.ICCID, "/sms"),
		Body:   smsRequest{Message: in.Message, Destination: in.Destination},
	})
	if err != nil {
		return nil, err
	}
	var p smsPayload
	if err := resp.Decode(&p); err != nil {
		return nil, err
	}
	return p.toModel(in, c.now()), nil
}

// GetConnectivity returns the network attachment of a SIM.
func (c *Client) GetConnectivity(ctx context.Context, iccid string) (*models.Connectivity, error) {
	iccid, err := validation.ValidateICCID(iccid)
	if err != nil {
		return nil, err
	}
	resp, err := c.exec.Execute(ctx, executor.RequestSpec{
		Class:  executor.ClassConnectivity,
		Method: http.MethodGet,
		Path:   simPath(iccid, "/connectivity"),
	})
	if err != nil {
		return nil, err
	}
	var p connectivityPayload
	if err := resp.Decode(&p); err != nil {
		return nil, err
	}
	return p.toModel(iccid, c.now()), nil
}

// ResetConnectivity forces the SIM to detach and re-attach to the network.
func (c *Client) ResetConnectivity(ctx context.Context, iccid string) error {
	iccid, err := validation.ValidateICCID(iccid)
	if err != nil {
		return err
	}
	_, err = c.exec.Execute(ctx, executor.RequestSpec{
		Class:  executor.ClassConnectivity,
		Method: http.MethodPost,
		Path:   simPath(iccid, "/connectivity/reset"),
	})
	return err
}

type eventsInput struct {
	ICCID    string `json:"iccid" validate:"iccid"`
	Page     int    `json:"page" validate:"gte=1"`
	PageSize int    `json:"pageSize" validate:"gte=1,lte=1000"`
}

// GetEvents returns one page of the provider's lifecycle events for a SIM.
func (c *Client) GetEvents(ctx context.Context, iccid string, page, pageSize int) ([]models.SimEvent, error) {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	in := eventsInput{ICCID: validation.NormalizeICCID(iccid), Page: page, PageSize: pageSize}
	if verr := validation.ValidateStruct(&in); verr != nil {
		return nil, verr.ToAPIErr()
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(in.Page))
	q.Set("pageSize", strconv.Itoa(in.PageSize))

	resp, err := c.exec.Execute(ctx, executor.RequestSpec{
		Class:  executor.ClassEvents,
		Method: http.MethodGet,
		Path:   simPath(in.ICCID, "/events"),
		Query:  q,
	})
	if err != nil {
		return nil, err
	}
	return decodeEvents(resp, in.ICCID)
}

func simPath(iccid, suffix string) string {
	return apiPrefix + "/sims/" + url.PathEscape(iccid) + suffix
}
