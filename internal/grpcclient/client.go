package grpcclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/faceeval/internal/logging"
	"github.com/example/faceeval/internal/matcher"
)

// Full method names served by the face service. Requests and responses are
// google.protobuf.Struct messages.
const (
	ServiceName     = "faceeval.v1.FaceService"
	FindMethod      = "/" + ServiceName + "/Find"
	RepresentMethod = "/" + ServiceName + "/Represent"
)

// FaceService is a client for the remote detection, embedding and search
// service. It implements both matcher.Matcher and matcher.Embedder.
type FaceService struct {
	conn   *grpc.ClientConn
	logger *zap.Logger
}

var (
	_ matcher.Matcher  = (*FaceService)(nil)
	_ matcher.Embedder = (*FaceService)(nil)
)

// DialFaceService returns a ready-to-use client for the face service.
func DialFaceService(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*FaceService, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)
	conn, err := grpc.DialContext(dialCtx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_face_service", "", errors.Join(matcher.ErrUnavailable, err))
		logger.Error("failed to dial face service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return &FaceService{conn: conn, logger: logger.Named("face_service")}, nil
}

// Close releases the underlying connection.
func (s *FaceService) Close() error {
	return s.conn.Close()
}

// Find implements matcher.Matcher.
func (s *FaceService) Find(ctx context.Context, req matcher.FindRequest) ([]matcher.Candidate, error) {
	fields, err := imageFields(req.Image)
	if err != nil {
		return nil, logging.NewSubjectError("grpcclient.find", "", req.Image.Name(), err)
	}
	fields["db_path"] = req.GalleryRoot
	fields["threshold"] = req.Threshold
	fields["distance_metric"] = string(req.Metric)
	fields["enforce_detection"] = req.DetectionRequired

	out, err := s.invoke(ctx, FindMethod, req.Image, fields)
	if err != nil {
		return nil, err
	}

	values := out.GetFields()["matches"].GetListValue().GetValues()
	candidates := make([]matcher.Candidate, 0, len(values))
	for i, v := range values {
		c, err := decodeMatch(v.GetStructValue().GetFields())
		if err != nil {
			return nil, logging.NewSubjectError("grpcclient.find", "", req.Image.Name(),
				errors.Join(matcher.ErrUnavailable, fmt.Errorf("match %d: %w", i, err)))
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// decodeMatch requires a non-empty identity and a finite, non-negative
// numeric distance.
func decodeMatch(fields map[string]*structpb.Value) (matcher.Candidate, error) {
	identity := fields["identity"].GetStringValue()
	if identity == "" {
		return matcher.Candidate{}, errors.New("no identity")
	}
	n, ok := fields["distance"].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return matcher.Candidate{}, errors.New("distance missing or not a number")
	}
	if math.IsNaN(n.NumberValue) || math.IsInf(n.NumberValue, 0) || n.NumberValue < 0 {
		return matcher.Candidate{}, fmt.Errorf("invalid distance %v", n.NumberValue)
	}
	return matcher.Candidate{Identity: identity, Distance: n.NumberValue}, nil
}

// Represent implements matcher.Embedder.
func (s *FaceService) Represent(ctx context.Context, img matcher.Image) ([]matcher.Face, error) {
	fields, err := imageFields(img)
	if err != nil {
		return nil, logging.NewSubjectError("grpcclient.represent", "", img.Name(), err)
	}

	out, err := s.invoke(ctx, RepresentMethod, img, fields)
	if err != nil {
		return nil, err
	}

	values := out.GetFields()["faces"].GetListValue().GetValues()
	faces := make([]matcher.Face, 0, len(values))
	for _, v := range values {
		m := v.GetStructValue().GetFields()
		raw := m["embedding"].GetListValue().GetValues()
		embedding := make([]float64, len(raw))
		for i, x := range raw {
			embedding[i] = x.GetNumberValue()
		}
		faces = append(faces, matcher.Face{
			Embedding:  embedding,
			Confidence: m["confidence"].GetNumberValue(),
		})
	}
	return faces, nil
}

func (s *FaceService) invoke(ctx context.Context, method string, img matcher.Image, fields map[string]interface{}) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, logging.NewSubjectError(method, "", img.Name(), err)
	}
	out := new(structpb.Struct)
	if err := s.conn.Invoke(ctx, method, in, out); err != nil {
		wrapped := logging.NewSubjectError(method, "", img.Name(), translate(err))
		if errors.Is(wrapped, matcher.ErrUnavailable) {
			s.logger.Error("face service call failed", zap.Error(wrapped))
		} else {
			s.logger.Debug("face service rejected image", zap.Error(wrapped))
		}
		return nil, wrapped
	}
	return out, nil
}

func imageFields(img matcher.Image) (map[string]interface{}, error) {
	data, err := img.Bytes()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"image_name": img.Name(),
		"image_data": base64.StdEncoding.EncodeToString(data),
	}, nil
}

// translate maps gRPC status codes onto the matcher error taxonomy.
func translate(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", matcher.ErrNoFace, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", matcher.ErrMultipleFaces, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", matcher.ErrUndecodable, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded, codes.Unimplemented,
		codes.Unauthenticated, codes.PermissionDenied, codes.ResourceExhausted:
		return fmt.Errorf("%w: %s: %s", matcher.ErrUnavailable, st.Code(), st.Message())
	default:
		return err
	}
}
