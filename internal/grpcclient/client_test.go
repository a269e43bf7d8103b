package grpcclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/faceeval/internal/matcher"
)

type faceHandler func(in *structpb.Struct) (*structpb.Struct, error)

func serviceDesc(find, represent faceHandler) *grpc.ServiceDesc {
	unary := func(h faceHandler) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
		return func(_ interface{}, _ context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			return h(in)
		}
	}
	return &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Find", Handler: unary(find)},
			{MethodName: "Represent", Handler: unary(represent)},
		},
	}
}

func startService(t *testing.T, find, represent faceHandler) *FaceService {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(serviceDesc(find, represent), struct{}{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
	client, err := DialFaceService(context.Background(), "bufnet", time.Second, zap.NewNop(), grpc.WithContextDialer(dialer))
	if err != nil {
		t.Fatalf("DialFaceService() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestFindDecodesMatches(t *testing.T) {
	var got map[string]interface{}
	find := func(in *structpb.Struct) (*structpb.Struct, error) {
		got = in.AsMap()
		return structpb.NewStruct(map[string]interface{}{
			"matches": []interface{}{
				map[string]interface{}{"identity": "db/authorized_users/alice/1.jpg", "distance": 0.12},
				map[string]interface{}{"identity": "db/authorized_users/bob/3.jpg", "distance": 0.31},
			},
		})
	}
	client := startService(t, find, nil)

	cands, err := client.Find(context.Background(), matcher.FindRequest{
		Image:             matcher.Image{Path: "q.jpg", Data: []byte("jpeg")},
		GalleryRoot:       "db/authorized_users",
		Threshold:         0.5,
		Metric:            matcher.Cosine,
		DetectionRequired: true,
	})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(cands) != 2 || cands[0].Identity != "db/authorized_users/alice/1.jpg" || cands[1].Distance != 0.31 {
		t.Fatalf("unexpected candidates: %+v", cands)
	}
	if got["db_path"] != "db/authorized_users" || got["distance_metric"] != "cosine" || got["enforce_detection"] != true {
		t.Fatalf("unexpected request: %v", got)
	}
	if got["image_data"] != "anBlZw==" || got["image_name"] != "q.jpg" {
		t.Fatalf("image not forwarded: %v", got)
	}
}

func TestFindEmptyResult(t *testing.T) {
	find := func(*structpb.Struct) (*structpb.Struct, error) {
		return &structpb.Struct{}, nil
	}
	client := startService(t, find, nil)

	cands, err := client.Find(context.Background(), matcher.FindRequest{
		Image: matcher.Image{Path: "q.jpg", Data: []byte("x")},
	})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(cands) != 0 {
		t.Fatalf("expected no candidates, got %+v", cands)
	}
}

func TestFindRejectsMalformedMatches(t *testing.T) {
	cases := map[string]map[string]interface{}{
		"missing distance":  {"identity": "db/authorized_users/alice/1.jpg"},
		"string distance":   {"identity": "db/authorized_users/alice/1.jpg", "distance": "0.1"},
		"negative distance": {"identity": "db/authorized_users/alice/1.jpg", "distance": -0.2},
		"missing identity":  {"distance": 0.1},
	}
	for name, match := range cases {
		t.Run(name, func(t *testing.T) {
			find := func(*structpb.Struct) (*structpb.Struct, error) {
				return structpb.NewStruct(map[string]interface{}{"matches": []interface{}{match}})
			}
			client := startService(t, find, nil)

			cands, err := client.Find(context.Background(), matcher.FindRequest{
				Image: matcher.Image{Path: "q.jpg", Data: []byte("x")},
			})
			if !errors.Is(err, matcher.ErrUnavailable) {
				t.Fatalf("expected ErrUnavailable, got %v (candidates %+v)", err, cands)
			}
		})
	}
}

func TestFindMapsStatusCodes(t *testing.T) {
	cases := []struct {
		code codes.Code
		want error
	}{
		{codes.NotFound, matcher.ErrNoFace},
		{codes.FailedPrecondition, matcher.ErrMultipleFaces},
		{codes.InvalidArgument, matcher.ErrUndecodable},
		{codes.Unimplemented, matcher.ErrUnavailable},
		{codes.ResourceExhausted, matcher.ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			find := func(*structpb.Struct) (*structpb.Struct, error) {
				return nil, status.Error(tc.code, "rejected")
			}
			client := startService(t, find, nil)

			_, err := client.Find(context.Background(), matcher.FindRequest{
				Image: matcher.Image{Path: "q.jpg", Data: []byte("x")},
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRepresentDecodesFaces(t *testing.T) {
	represent := func(*structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]interface{}{
			"faces": []interface{}{
				map[string]interface{}{"embedding": []interface{}{0.5, -0.25, 1.0}, "confidence": 0.98},
			},
		})
	}
	client := startService(t, nil, represent)

	faces, err := client.Represent(context.Background(), matcher.Image{Path: "q.jpg", Data: []byte("x")})
	if err != nil {
		t.Fatalf("Represent() error = %v", err)
	}
	if len(faces) != 1 || len(faces[0].Embedding) != 3 || faces[0].Embedding[1] != -0.25 || faces[0].Confidence != 0.98 {
		t.Fatalf("unexpected faces: %+v", faces)
	}
}

func TestFindUnreadableImage(t *testing.T) {
	client := startService(t, nil, nil)

	_, err := client.Find(context.Background(), matcher.FindRequest{
		Image: matcher.Image{Path: "/does/not/exist.jpg"},
	})
	if !errors.Is(err, matcher.ErrUndecodable) {
		t.Fatalf("expected ErrUndecodable, got %v", err)
	}
}

func TestTranslatePassesThroughPlainErrors(t *testing.T) {
	plain := errors.New("boom")
	if got := translate(plain); got != plain {
		t.Fatalf("translate() = %v, want original error", got)
	}
	if got := translate(status.Error(codes.Internal, "model crashed")); errors.Is(got, matcher.ErrUnavailable) {
		t.Fatalf("internal errors must stay per-query, got %v", got)
	}
}

func TestDialUnavailable(t *testing.T) {
	lis := bufconn.Listen(1024)
	_ = lis.Close()
	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
	_, err := DialFaceService(context.Background(), "bufnet", 100*time.Millisecond, zap.NewNop(), grpc.WithContextDialer(dialer))
	if !errors.Is(err, matcher.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
