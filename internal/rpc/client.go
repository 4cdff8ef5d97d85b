package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/invariant"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/scheduler"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/signals"
)

// #region types

// AnalyzeReply is the decoded subset of an Analyze response. Parsed messages
// stay in Raw.
type AnalyzeReply struct {
	RunID            string                         `json:"runId"`
	ContextHash      string                         `json:"contextHash"`
	Redundancy       []orchestrator.RedundancyCheck `json:"redundancy"`
	Signals          signals.Bundle                 `json:"signals"`
	AggregateRisk    signals.AggregateRisk          `json:"aggregateRisk"`
	Validation       invariant.Result               `json:"validation"`
	Violations       []invariant.Violation          `json:"violations"`
	Report           invariant.Report               `json:"report"`
	ScheduleDecision scheduler.Decision             `json:"scheduleDecision"`
	Selection        scheduler.Selection            `json:"selection"`

	Raw *structpb.Struct `json:"-"`
}

// #endregion types

// #region client-struct

// Client wraps a gRPC connection to the audit service.
type Client struct {
	conn grpc.ClientConnInterface
	own  *grpc.ClientConn
}

// NewClient connects to the audit service at addr.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, own: conn}, nil
}

// NewClientWithConn uses an existing connection. Close leaves it open.
func NewClientWithConn(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close shuts down a connection opened by NewClient.
func (c *Client) Close() error {
	if c.own == nil {
		return nil
	}
	return c.own.Close()
}

// #endregion client-struct

// #region calls

// Analyze submits one analysis run.
func (c *Client) Analyze(ctx context.Context, in orchestrator.Input) (AnalyzeReply, error) {
	req, err := toStruct(in)
	if err != nil {
		return AnalyzeReply{}, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodAnalyze, req, resp); err != nil {
		return AnalyzeReply{}, fmt.Errorf("analyze rpc: %w", err)
	}
	var out AnalyzeReply
	if err := fromStruct(resp, &out); err != nil {
		return AnalyzeReply{}, err
	}
	out.Raw = resp
	return out, nil
}

// Schedule runs one scheduling decision on the server.
func (c *Client) Schedule(ctx context.Context, sc scheduler.Context, budget *float64) (ScheduleReply, error) {
	req, err := toStruct(ScheduleRequest{Context: sc, Budget: budget})
	if err != nil {
		return ScheduleReply{}, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodSchedule, req, resp); err != nil {
		return ScheduleReply{}, fmt.Errorf("schedule rpc: %w", err)
	}
	var out ScheduleReply
	if err := fromStruct(resp, &out); err != nil {
		return ScheduleReply{}, err
	}
	return out, nil
}

// Stats fetches the server's scheduler statistics.
func (c *Client) Stats(ctx context.Context) (scheduler.Stats, error) {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodStats, &emptypb.Empty{}, resp); err != nil {
		return scheduler.Stats{}, fmt.Errorf("stats rpc: %w", err)
	}
	var out scheduler.Stats
	if err := fromStruct(resp, &out); err != nil {
		return scheduler.Stats{}, err
	}
	return out, nil
}

// #endregion calls
