package flight

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client connects to a Service and evaluates segment streams remotely.
type Client struct {
	fc flight.Client
}

// Dial connects to a Flight WKV server. The connection is plaintext; the
// surrounding deployment is expected to wrap transport security around it.
func Dial(addr string) (*Client, error) {
	fc, err := flight.NewClientWithMiddleware(addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{fc: fc}, nil
}

func (c *Client) Close() error {
	return c.fc.Close()
}

// SegmentStream is one open DoExchange call. Segments sent on a stream
// must share their shape; the caller threads returned states into
// subsequent segments to evaluate long sequences piecewise.
type SegmentStream struct {
	stream flight.FlightService_DoExchangeClient
	wtr    *flight.Writer
	rdr    *flight.Reader
}

// OpenStream starts a segment exchange.
func (c *Client) OpenStream(ctx context.Context) (*SegmentStream, error) {
	stream, err := c.fc.DoExchange(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening exchange: %w", err)
	}
	return &SegmentStream{stream: stream}, nil
}

// Eval sends one segment and waits for its result.
func (ss *SegmentStream) Eval(seg *Segment) (*Result, error) {
	if ss.wtr == nil {
		_, H, L, K := seg.R.Dims()
		_, _, _, V := seg.V.Dims()
		ss.wtr = flight.NewRecordWriter(ss.stream, ipc.WithSchema(requestSchema(H, L, K, V)))
		ss.wtr.SetFlightDescriptor(&flight.FlightDescriptor{
			Type: flight.DescriptorPATH,
			Path: []string{"wkv", "segment"},
		})
	}

	rec, err := segmentToRecord(seg, memory.DefaultAllocator)
	if err != nil {
		return nil, err
	}
	err = ss.wtr.Write(rec)
	rec.Release()
	if err != nil {
		return nil, fmt.Errorf("sending segment: %w", err)
	}

	if ss.rdr == nil {
		rdr, err := flight.NewRecordReader(ss.stream)
		if err != nil {
			return nil, fmt.Errorf("reading results: %w", err)
		}
		ss.rdr = rdr
	}
	if !ss.rdr.Next() {
		if err := ss.rdr.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return recordToResult(ss.rdr.Record())
}

// Close finishes the exchange. Results not yet read are discarded.
func (ss *SegmentStream) Close() error {
	if ss.rdr != nil {
		ss.rdr.Release()
	}
	if ss.wtr != nil {
		if err := ss.wtr.Close(); err != nil {
			return err
		}
	}
	return ss.stream.CloseSend()
}
