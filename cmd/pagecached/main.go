// Command pagecached exposes a Pagecache over HTTP/JSON and a
// hand-registered gRPC service (no protobuf toolchain involved), and runs
// its maintenance pass on a cron schedule.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/blockcache/pagecache/internal/blockdev"
	"github.com/blockcache/pagecache/internal/blockdev/filedev"
	"github.com/blockcache/pagecache/internal/blockdev/memdev"
	"github.com/blockcache/pagecache/internal/blockdev/sqlitedev"
	"github.com/blockcache/pagecache/internal/config"
	"github.com/blockcache/pagecache/internal/pagecache"
	"github.com/blockcache/pagecache/internal/status"
)

var (
	flagConfig = flag.String("config", "", "path to a YAML config file (defaults applied if empty)")
	flagHTTP   = flag.String("http", "", "override server.http_addr")
	flagGRPC   = flag.String("grpc", "", "override server.grpc_addr")
)

// jsonCodec lets the gRPC service speak plain JSON instead of protobuf, so
// no .proto files or protoc invocation are needed.
type jsonCodec struct{}

func (jsonCodec) Name() string                      { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type readRequest struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

type readResponse struct {
	RequestID string `json:"request_id"`
	Data      string `json:"data,omitempty"` // base64
	Error     string `json:"error,omitempty"`
	Duration  string `json:"duration"`
}

type writeRequest struct {
	Offset uint64 `json:"offset"`
	Data   string `json:"data"` // base64
}

type writeResponse struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error,omitempty"`
	Duration  string `json:"duration"`
}

type statResponse struct {
	RequestID    string `json:"request_id"`
	Free         int    `json:"free"`
	New          int    `json:"new"`
	Active       int    `json:"active"`
	Dirty        int    `json:"dirty"`
	TotalPages   int    `json:"total_pages"`
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	FillFailures uint64 `json:"fill_failures"`
}

// PageCacheServer is the hand-registered gRPC service interface.
type PageCacheServer interface {
	Read(context.Context, *readRequest) (*readResponse, error)
	Write(context.Context, *writeRequest) (*writeResponse, error)
	Stat(context.Context, *struct{}) (*statResponse, error)
}

func registerPageCacheServer(s *grpc.Server, srv PageCacheServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "pagecached.PageCache",
		HandlerType: (*PageCacheServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Read", Handler: _PageCache_Read_Handler},
			{MethodName: "Write", Handler: _PageCache_Write_Handler},
			{MethodName: "Stat", Handler: _PageCache_Stat_Handler},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "pagecached",
	}, srv)
}

func _PageCache_Read_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(readRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PageCacheServer).Read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pagecached.PageCache/Read"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(PageCacheServer).Read(ctx, req.(*readRequest)) }
	return interceptor(ctx, in, info, handler)
}

func _PageCache_Write_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(writeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PageCacheServer).Write(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pagecached.PageCache/Write"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(PageCacheServer).Write(ctx, req.(*writeRequest)) }
	return interceptor(ctx, in, info, handler)
}

func _PageCache_Stat_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(struct{})
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PageCacheServer).Stat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/pagecached.PageCache/Stat"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(PageCacheServer).Stat(ctx, req.(*struct{})) }
	return interceptor(ctx, in, info, handler)
}

// server holds the shared Pagecache and implements PageCacheServer.
type server struct {
	pc        *pagecache.Pagecache
	blockSize uint32
}

func newRequestID() string {
	return uuid.New().String()
}

func (s *server) Read(ctx context.Context, req *readRequest) (*readResponse, error) {
	start := time.Now()
	reqID := newRequestID()

	sg := &pagecache.ScatterGather{}
	result := make(chan status.Status, 1)
	s.pc.SGRead(sg, pagecache.ByteRange{Start: req.Offset, End: req.Offset + req.Length}, func(st status.Status) {
		result <- st
	})
	st := <-result
	defer sg.ReleaseAll()

	if !status.IsOK(st) {
		return &readResponse{RequestID: reqID, Error: st.Error(), Duration: time.Since(start).String()}, nil
	}
	return &readResponse{
		RequestID: reqID,
		Data:      base64.StdEncoding.EncodeToString(sg.Bytes()),
		Duration:  time.Since(start).String(),
	}, nil
}

func (s *server) Write(ctx context.Context, req *writeRequest) (*writeResponse, error) {
	start := time.Now()
	reqID := newRequestID()

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return &writeResponse{RequestID: reqID, Error: fmt.Sprintf("invalid base64: %v", err), Duration: time.Since(start).String()}, nil
	}

	// Write requires a block-aligned payload; a request that isn't is
	// widened to the enclosing block range by reading the current
	// contents of the padding and overlaying the caller's bytes on top,
	// so bytes outside the caller's own range are never clobbered.
	blockSize := uint64(s.blockSize)
	alignedStart := (req.Offset / blockSize) * blockSize
	end := req.Offset + uint64(len(data))
	alignedEnd := ((end + blockSize - 1) / blockSize) * blockSize

	payload := data
	if alignedStart != req.Offset || alignedEnd != end {
		payload, err = s.widenForWrite(alignedStart, alignedEnd, req.Offset, data)
		if err != nil {
			return &writeResponse{RequestID: reqID, Error: err.Error(), Duration: time.Since(start).String()}, nil
		}
	}

	blocks := pagecache.BlockRange{Start: alignedStart / blockSize, End: alignedEnd / blockSize}

	result := make(chan status.Status, 1)
	s.pc.Write(payload, blocks, func(st status.Status) { result <- st })
	st := <-result

	if !status.IsOK(st) {
		return &writeResponse{RequestID: reqID, Error: st.Error(), Duration: time.Since(start).String()}, nil
	}
	return &writeResponse{RequestID: reqID, Duration: time.Since(start).String()}, nil
}

// widenForWrite reads the current contents of [alignedStart, alignedEnd)
// and overlays data at its true offset, producing a block-aligned payload
// that doesn't lose whatever already occupied the rounding padding.
func (s *server) widenForWrite(alignedStart, alignedEnd, offset uint64, data []byte) ([]byte, error) {
	sg := &pagecache.ScatterGather{}
	done := make(chan status.Status, 1)
	s.pc.SGRead(sg, pagecache.ByteRange{Start: alignedStart, End: alignedEnd}, func(st status.Status) { done <- st })
	st := <-done
	if !status.IsOK(st) {
		return nil, fmt.Errorf("align write: %v", st)
	}
	buf := append([]byte(nil), sg.Bytes()...)
	sg.ReleaseAll()
	copy(buf[offset-alignedStart:], data)
	return buf, nil
}

func (s *server) Stat(ctx context.Context, _ *struct{}) (*statResponse, error) {
	st := s.pc.Stats()
	return &statResponse{
		RequestID:    newRequestID(),
		Free:         st.Free,
		New:          st.New,
		Active:       st.Active,
		Dirty:        st.Dirty,
		TotalPages:   st.TotalPages,
		Hits:         st.Hits,
		Misses:       st.Misses,
		FillFailures: st.FillFailures,
	}, nil
}

func (s *server) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req readRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp, _ := s.Read(r.Context(), &req)
	writeJSON(w, resp)
}

func (s *server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp, _ := s.Write(r.Context(), &req)
	writeJSON(w, resp)
}

func (s *server) handleStat(w http.ResponseWriter, r *http.Request) {
	resp, _ := s.Stat(r.Context(), &struct{}{})
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func openDevice(cfg config.DeviceConfig, length uint64, blockSize uint32) (blockdev.Device, error) {
	switch cfg.Kind {
	case "", "mem":
		return memdev.New(length, blockSize), nil
	case "file":
		return filedev.Open(cfg.Path, blockSize)
	case "sqlite":
		return sqlitedev.Open(cfg.Path, blockSize)
	default:
		return nil, fmt.Errorf("unknown device kind %q", cfg.Kind)
	}
}

func main() {
	flag.Parse()

	var cfg config.Config
	if *flagConfig != "" {
		var err error
		cfg, err = config.Load(*flagConfig)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
	} else {
		cfg = config.Default()
	}
	if *flagHTTP != "" {
		cfg.Server.HTTPAddr = *flagHTTP
	}
	if *flagGRPC != "" {
		cfg.Server.GRPCAddr = *flagGRPC
	}

	dev, err := openDevice(cfg.Device, cfg.Cache.Length, cfg.Cache.BlockSize)
	if err != nil {
		log.Fatalf("open device: %v", err)
	}

	pc, err := pagecache.NewPagecache(pagecache.Config{
		Length:    cfg.Cache.Length,
		PageSize:  cfg.Cache.PageSize,
		BlockSize: cfg.Cache.BlockSize,
		MaxPages:  cfg.Cache.MaxPages,
	}, dev)
	if err != nil {
		log.Fatalf("new pagecache: %v", err)
	}

	srv := &server{pc: pc, blockSize: cfg.Cache.BlockSize}

	sched := cron.New(cron.WithSeconds())
	if cfg.Server.MaintenanceCron != "" {
		_, err := sched.AddFunc(cfg.Server.MaintenanceCron, func() {
			pc.RunMaintenance(context.Background())
		})
		if err != nil {
			log.Fatalf("schedule maintenance: %v", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	encoding.RegisterCodec(jsonCodec{})

	if cfg.Server.GRPCAddr != "" {
		go func() {
			lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
			if err != nil {
				log.Fatalf("gRPC listen: %v", err)
			}
			gs := grpc.NewServer()
			registerPageCacheServer(gs, srv)
			log.Printf("gRPC listening on %s", cfg.Server.GRPCAddr)
			if err := gs.Serve(lis); err != nil {
				log.Printf("gRPC serve error: %v", err)
			}
		}()
	}

	if cfg.Server.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/read", srv.handleRead)
		mux.HandleFunc("/api/write", srv.handleWrite)
		mux.HandleFunc("/api/stat", srv.handleStat)
		log.Printf("HTTP listening on %s", cfg.Server.HTTPAddr)
		if err := http.ListenAndServe(cfg.Server.HTTPAddr, mux); err != nil {
			log.Fatalf("HTTP serve: %v", err)
		}
	} else {
		select {}
	}
}
