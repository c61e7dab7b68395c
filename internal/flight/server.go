package flight

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/logger"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
	"github.com/23skdu/longbow-bodkin/internal/wkv"
)

// Service evaluates WKV segments over Arrow Flight DoExchange. Each
// request batch holds one segment with its entering state; the response
// batch holds the outputs and final state. The service itself is
// stateless: streaming continuity comes from the client feeding returned
// states back in, which keeps state ownership with the caller.
type Service struct {
	flight.BaseFlightServer

	cfg config.Config
	log *logger.Logger
	srv flight.Server
}

func NewService(cfg config.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{
		cfg: cfg,
		log: logger.Log.Component("flight"),
	}, nil
}

// DoExchange handles one segment stream: read a request batch, run the
// chunked engine, write the response batch, repeat until the client closes
// its side.
func (s *Service) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return fmt.Errorf("reading exchange stream: %w", err)
	}
	defer rdr.Release()

	var wtr *flight.Writer
	defer func() {
		if wtr != nil {
			wtr.Close()
		}
	}()

	for rdr.Next() {
		start := time.Now()

		seg, err := recordToSegment(rdr.Record())
		if err != nil {
			metrics.RecordFlightSegment("bad_request", start)
			return fmt.Errorf("decoding segment: %w", err)
		}

		res, err := s.evalSegment(seg)
		if err != nil {
			metrics.RecordFlightSegment("error", start)
			return err
		}

		if wtr == nil {
			_, H, L, _ := res.Out.Dims()
			_, _, K, V := res.State.Dims()
			wtr = flight.NewRecordWriter(stream, ipc.WithSchema(resultSchema(H, L, K, V)))
		}
		rec := resultToRecord(res, memory.DefaultAllocator)
		err = wtr.Write(rec)
		rec.Release()
		if err != nil {
			metrics.RecordFlightSegment("error", start)
			return fmt.Errorf("writing result: %w", err)
		}
		metrics.RecordFlightSegment("ok", start)
	}
	return rdr.Err()
}

// evalSegment runs the chunked engine on one decoded segment. Split out
// from the grpc plumbing so it is directly testable.
func (s *Service) evalSegment(seg *Segment) (*Result, error) {
	out, next, err := wkv.Chunked(seg.R, seg.K, seg.V, seg.W, seg.U, seg.State, s.cfg)
	if err != nil {
		return nil, fmt.Errorf("evaluating segment: %w", err)
	}
	if nans, infs := wkv.CheckFinite("flight_out", out.Data()); nans+infs > 0 {
		s.log.Warn("non-finite values in segment output", "nan", nans, "inf", infs)
	}
	return &Result{Out: out, State: next}, nil
}

// Serve blocks, serving Flight on addr until Shutdown is called.
func (s *Service) Serve(addr string) error {
	srv := flight.NewServerWithMiddleware(nil)
	srv.RegisterFlightService(s)
	if err := srv.Init(addr); err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.srv = srv
	s.log.Info("flight server listening",
		"addr", srv.Addr().String(),
		"chunk_len", s.cfg.ChunkLen,
		"precision", s.cfg.Precision.String())
	return srv.Serve()
}

// Addr returns the bound listen address, valid once Serve has initialized.
func (s *Service) Addr() string {
	if s.srv == nil {
		return ""
	}
	return s.srv.Addr().String()
}

func (s *Service) Shutdown() {
	if s.srv != nil {
		s.srv.Shutdown()
	}
}
