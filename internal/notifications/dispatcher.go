package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/tablesync-backend/internal/feed"
	"github.com/angelmondragon/tablesync-backend/pkg/logger"
)

// Permission mirrors the browser notification permission reported by the
// dashboard client.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// ParsePermission maps client input onto a Permission. Anything unknown is
// treated as not granted.
func ParsePermission(value string) Permission {
	switch Permission(strings.ToLower(strings.TrimSpace(value))) {
	case PermissionGranted:
		return PermissionGranted
	case PermissionDenied:
		return PermissionDenied
	default:
		return PermissionDefault
	}
}

// Alert is the rendered form of a feed notice.
type Alert struct {
	Kind         feed.NoticeKind `json:"kind"`
	OrderID      uuid.UUID       `json:"order_id"`
	Title        string          `json:"title"`
	Body         string          `json:"body"`
	TableNo      string          `json:"table_no"`
	CustomerName string          `json:"customer_name"`
	ItemCount    int             `json:"item_count,omitempty"`
}

// RenderAlert builds the owner-facing text for a notice.
func RenderAlert(n feed.Notice) Alert {
	alert := Alert{
		Kind:         n.Kind,
		OrderID:      n.OrderID,
		TableNo:      n.TableNo,
		CustomerName: n.CustomerName,
		ItemCount:    n.ItemCount,
	}
	switch n.Kind {
	case feed.NoticeItemsAdded:
		alert.Title = "Items added"
		alert.Body = fmt.Sprintf("%s added %d %s at table %s", n.CustomerName, n.ItemCount, pluralItems(n.ItemCount), n.TableNo)
	default:
		alert.Title = "New order"
		alert.Body = fmt.Sprintf("%s placed an order at table %s", n.CustomerName, n.TableNo)
	}
	return alert
}

func pluralItems(n int) string {
	if n == 1 {
		return "item"
	}
	return "items"
}

// Sink delivers an alert to one surface.
type Sink interface {
	Deliver(ctx context.Context, alert Alert) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, alert Alert) error

func (f SinkFunc) Deliver(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}

// DispatcherParams wires the sinks for one dashboard connection. Nil sinks
// are skipped.
type DispatcherParams struct {
	Alert      Sink
	Sound      Sink
	OS         Sink
	Permission Permission
	Logger     *logger.Logger
}

// Dispatcher fans feed notices out to the configured sinks. It holds no
// state and never reports failures to its caller.
type Dispatcher struct {
	alert      Sink
	sound      Sink
	os         Sink
	permission Permission
	logg       *logger.Logger
}

func NewDispatcher(params DispatcherParams) *Dispatcher {
	permission := params.Permission
	if permission == "" {
		permission = PermissionDefault
	}
	return &Dispatcher{
		alert:      params.Alert,
		sound:      params.Sound,
		os:         params.OS,
		permission: permission,
		logg:       params.Logger,
	}
}

// Dispatch renders each notice and hands it to every sink in turn.
func (d *Dispatcher) Dispatch(ctx context.Context, notices []feed.Notice) {
	for _, notice := range notices {
		alert := RenderAlert(notice)
		d.deliver(ctx, "alert", d.alert, alert)
		d.deliver(ctx, "sound", d.sound, alert)
		if d.permission == PermissionGranted {
			d.deliver(ctx, "os", d.os, alert)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, name string, sink Sink, alert Alert) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.warn(ctx, name, alert, fmt.Errorf("sink panic: %v", r))
		}
	}()
	if err := sink.Deliver(ctx, alert); err != nil {
		d.warn(ctx, name, alert, err)
	}
}

func (d *Dispatcher) warn(ctx context.Context, name string, alert Alert, err error) {
	if d.logg == nil {
		return
	}
	logCtx := d.logg.WithFields(ctx, map[string]any{
		"sink":     name,
		"order_id": alert.OrderID.String(),
		"kind":     string(alert.Kind),
		"error":    err.Error(),
	})
	d.logg.Warn(logCtx, "notification sink failed")
}
