// workers/providers.go
package workers

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"affiliate-leaderboard/config"
	"affiliate-leaderboard/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// provider isolates a partner's query parameters and field names from the
// rest of the sync path.
type provider interface {
	listField() string
	// keyHeader names the header carrying the API key; empty means the key
	// goes in the "key" query parameter.
	keyHeader() string
	applyWindow(q url.Values, window *Window, now time.Time)
	decodeItem(raw json.RawMessage) (models.FeedItem, error)
}

var providers = map[string]func(config.Partner) provider{
	config.SourceChicken: func(config.Partner) provider { return chickenProvider{} },
	config.SourceRainbet: func(config.Partner) provider { return rainbetProvider{} },
	config.SourceCSGOWin: func(p config.Partner) provider { return csgowinProvider{code: p.Code} },
}

// flexString accepts an identifier sent either as a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Errorf("identifier %s is neither string nor number", string(data))
	}
	*f = flexString(n.String())
	return nil
}

func decimalOrZero(d decimal.NullDecimal) decimal.Decimal {
	if d.Valid {
		return d.Decimal
	}
	return decimal.Zero
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// chickenProvider speaks the gaming affiliate referrals API:
// GET ?key=&minTime=&maxTime= -> {"referrals":[{userId, displayName, xpEarned, acquireTime, ...}]}
type chickenProvider struct{}

type chickenReferral struct {
	UserID           flexString          `json:"userId"`
	DisplayName      *string             `json:"displayName"`
	XPEarned         decimal.NullDecimal `json:"xpEarned"`
	XP               decimal.NullDecimal `json:"xp"`
	AcquireTime      decimal.NullDecimal `json:"acquireTime"`
	WagerAmount      decimal.NullDecimal `json:"wagerAmount"`
	DepositAmount    decimal.NullDecimal `json:"depositAmount"`
	CommissionAmount decimal.NullDecimal `json:"commissionAmount"`
}

func (chickenProvider) listField() string { return "referrals" }

func (chickenProvider) keyHeader() string { return "" }

func (chickenProvider) applyWindow(q url.Values, window *Window, _ time.Time) {
	if window == nil {
		return
	}
	q.Set("minTime", strconv.FormatInt(window.From, 10))
	q.Set("maxTime", strconv.FormatInt(window.To, 10))
}

func (chickenProvider) decodeItem(raw json.RawMessage) (models.FeedItem, error) {
	var r chickenReferral
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.FeedItem{}, errors.Wrap(err, "decode referral")
	}

	// Older revisions of the API call the metric "xp" instead of "xpEarned".
	xp := decimalOrZero(r.XPEarned)
	if !r.XPEarned.Valid {
		xp = decimalOrZero(r.XP)
	}
	if xp.IsNegative() {
		return models.FeedItem{}, errors.Errorf("negative xp %s for user %q", xp, r.UserID)
	}

	item := models.FeedItem{
		UserID:           string(r.UserID),
		DisplayName:      nonEmpty(r.DisplayName),
		XP:               xp.InexactFloat64(),
		WagerAmount:      decimalOrZero(r.WagerAmount),
		DepositAmount:    decimalOrZero(r.DepositAmount),
		CommissionAmount: decimalOrZero(r.CommissionAmount),
	}
	if r.AcquireTime.Valid {
		ms := r.AcquireTime.Decimal.IntPart()
		item.ReferredAt = &ms
	}
	return item, nil
}

// rainbetProvider speaks the casino affiliates API, which filters by calendar
// day: GET ?key=&start_at=YYYY-MM-DD&end_at=YYYY-MM-DD -> {"affiliates":[{id, username, wagered_amount}]}
type rainbetProvider struct{}

type rainbetAffiliate struct {
	ID            flexString          `json:"id"`
	Username      *string             `json:"username"`
	WageredAmount decimal.NullDecimal `json:"wagered_amount"`
}

const rainbetDay = "2006-01-02"

func (rainbetProvider) listField() string { return "affiliates" }

func (rainbetProvider) keyHeader() string { return "" }

// applyWindow always sets both bounds; the partner rejects requests without
// them, so the default range is the current calendar month.
func (rainbetProvider) applyWindow(q url.Values, window *Window, now time.Time) {
	var from, to time.Time
	if window == nil {
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		to = now
	} else {
		from = time.UnixMilli(window.From).UTC()
		to = time.UnixMilli(window.To).UTC()
	}
	q.Set("start_at", from.Format(rainbetDay))
	q.Set("end_at", to.Format(rainbetDay))
}

func (rainbetProvider) decodeItem(raw json.RawMessage) (models.FeedItem, error) {
	var a rainbetAffiliate
	if err := json.Unmarshal(raw, &a); err != nil {
		return models.FeedItem{}, errors.Wrap(err, "decode affiliate")
	}
	name := nonEmpty(a.Username)
	id := string(a.ID)
	if id == "" && name != nil {
		id = *name
	}
	wagered := decimalOrZero(a.WageredAmount)
	if wagered.IsNegative() {
		return models.FeedItem{}, errors.Errorf("negative wagered_amount %s for user %q", wagered, id)
	}
	return models.FeedItem{
		UserID:           id,
		DisplayName:      name,
		XP:               wagered.InexactFloat64(),
		WagerAmount:      wagered,
		DepositAmount:    decimal.Zero,
		CommissionAmount: decimal.Zero,
	}, nil
}

// csgowinProvider speaks the CSGOWin affiliate export, authenticated with an
// x-apikey header and scoped by affiliate code:
// GET ?code=&gt=&lt=&by=wager&sort=desc&take=&skip=0 -> {"data":[{id, username, wagered, deposited, earned}]}
type csgowinProvider struct {
	code string
}

// csgowinPageSize is the single page requested per cycle.
const csgowinPageSize = 1000

type csgowinReferral struct {
	ID        flexString          `json:"id"`
	UserID    flexString          `json:"userId"`
	Username  *string             `json:"username"`
	Name      *string             `json:"name"`
	Wagered   decimal.NullDecimal `json:"wagered"`
	Wager     decimal.NullDecimal `json:"wager"`
	Deposited decimal.NullDecimal `json:"deposited"`
	Earned    decimal.NullDecimal `json:"earned"`
}

func (csgowinProvider) listField() string { return "data" }

func (csgowinProvider) keyHeader() string { return "x-apikey" }

// applyWindow sends gt/lt in epoch millis. Without a window the range is
// the current calendar year so far.
func (p csgowinProvider) applyWindow(q url.Values, window *Window, now time.Time) {
	from := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	to := now.UnixMilli()
	if window != nil {
		from, to = window.From, window.To
	}
	q.Set("code", p.code)
	q.Set("gt", strconv.FormatInt(from, 10))
	q.Set("lt", strconv.FormatInt(to, 10))
	q.Set("by", "wager")
	q.Set("sort", "desc")
	q.Set("take", strconv.Itoa(csgowinPageSize))
	q.Set("skip", "0")
}

func (csgowinProvider) decodeItem(raw json.RawMessage) (models.FeedItem, error) {
	var r csgowinReferral
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.FeedItem{}, errors.Wrap(err, "decode referral")
	}
	id := string(r.ID)
	if id == "" {
		id = string(r.UserID)
	}
	name := nonEmpty(r.Username)
	if name == nil {
		name = nonEmpty(r.Name)
	}
	wagered := decimalOrZero(r.Wagered)
	if !r.Wagered.Valid {
		wagered = decimalOrZero(r.Wager)
	}
	if wagered.IsNegative() {
		return models.FeedItem{}, errors.Errorf("negative wager %s for user %q", wagered, id)
	}
	return models.FeedItem{
		UserID:           id,
		DisplayName:      name,
		XP:               wagered.InexactFloat64(),
		WagerAmount:      wagered,
		DepositAmount:    decimalOrZero(r.Deposited),
		CommissionAmount: decimalOrZero(r.Earned),
	}, nil
}
