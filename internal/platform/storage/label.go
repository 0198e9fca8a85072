package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/services"
)

// maxSignedURLExpiry is the longest lifetime V4 signed URLs accept.
const maxSignedURLExpiry = 7 * 24 * time.Hour

// ObjectWriter stores one object.
type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, object, contentType string, data []byte, metadata map[string]string) error
}

// GCSWriter writes objects through a Cloud Storage client.
type GCSWriter struct {
	client *gcs.Client
}

// NewGCSWriter wraps client.
func NewGCSWriter(client *gcs.Client) (*GCSWriter, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	return &GCSWriter{client: client}, nil
}

func (w *GCSWriter) WriteObject(ctx context.Context, bucket, object, contentType string, data []byte, metadata map[string]string) error {
	writer := w.client.Bucket(bucket).Object(object).NewWriter(ctx)
	writer.ContentType = contentType
	writer.Metadata = metadata
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("storage: write %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("storage: finalize %s: %w", object, err)
	}
	return nil
}

// LabelWriter renders plain-text return shipping labels and uploads them to a bucket.
// It implements services.ReturnLabelGenerator.
type LabelWriter struct {
	bucket  string
	writer  ObjectWriter
	signer  Signer
	expiry  time.Duration
	money   services.MoneyFormatter
	now     func() time.Time
	returns domain.Address
}

// LabelWriterOption customises a LabelWriter.
type LabelWriterOption func(*LabelWriter)

// WithLabelSigner makes GenerateReturnLabel return V4 signed download URLs.
func WithLabelSigner(signer Signer, expiry time.Duration) LabelWriterOption {
	return func(l *LabelWriter) {
		l.signer = signer
		if expiry > 0 && expiry <= maxSignedURLExpiry {
			l.expiry = expiry
		}
	}
}

// WithLabelClock injects the clock used for signed URL expiry.
func WithLabelClock(clock func() time.Time) LabelWriterOption {
	return func(l *LabelWriter) {
		if clock != nil {
			l.now = clock
		}
	}
}

// WithReturnAddress sets the warehouse address printed as the label destination.
func WithReturnAddress(address domain.Address) LabelWriterOption {
	return func(l *LabelWriter) {
		l.returns = address
	}
}

// NewLabelWriter constructs a label writer for bucket.
func NewLabelWriter(bucket string, writer ObjectWriter, money services.MoneyFormatter, opts ...LabelWriterOption) (*LabelWriter, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("label writer: bucket is required")
	}
	if writer == nil {
		return nil, errors.New("label writer: object writer is required")
	}
	l := &LabelWriter{
		bucket: bucket,
		writer: writer,
		expiry: maxSignedURLExpiry,
		money:  money,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// GenerateReturnLabel uploads the label and returns where it can be downloaded.
func (l *LabelWriter) GenerateReturnLabel(ctx context.Context, request services.ReturnRequest, order services.Order) (string, error) {
	object, err := ReturnLabelPath(order.ID, request.ID)
	if err != nil {
		return "", err
	}
	metadata := map[string]string{"orderId": order.ID, "returnId": request.ID}
	if err := l.writer.WriteObject(ctx, l.bucket, object, "text/plain; charset=utf-8", l.render(request, order), metadata); err != nil {
		return "", err
	}
	if l.signer == nil {
		return (&url.URL{Scheme: "https", Host: "storage.googleapis.com", Path: "/" + l.bucket + "/" + object}).String(), nil
	}

	signed, err := gcs.SignedURL(l.bucket, object, &gcs.SignedURLOptions{
		GoogleAccessID: l.signer.Email(),
		Method:         "GET",
		Expires:        l.now().Add(l.expiry),
		Scheme:         gcs.SigningSchemeV4,
		SignBytes: func(payload []byte) ([]byte, error) {
			return l.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return "", fmt.Errorf("storage: sign label url: %w", err)
	}
	return signed, nil
}

func (l *LabelWriter) render(request services.ReturnRequest, order services.Order) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "RETURN %s\n", request.ID)
	fmt.Fprintf(&b, "Order: %s\n", order.ID)
	fmt.Fprintf(&b, "Pickup: %s\n\n", request.ScheduledDate.UTC().Format("2006-01-02"))

	b.WriteString("FROM\n")
	writeAddress(&b, order.ShippingAddress)
	if !l.returns.IsZero() {
		b.WriteString("\nTO\n")
		writeAddress(&b, l.returns)
	}

	b.WriteString("\nITEMS\n")
	for _, item := range request.Items {
		fmt.Fprintf(&b, "  %s/%s x%d  %s\n", item.ProductID, item.VariantID, item.Quantity, l.money.Format(item.Price*int64(item.Quantity)))
	}
	fmt.Fprintf(&b, "Value: %s\n", l.money.Format(request.ItemsTotal()))
	return b.Bytes()
}

func writeAddress(b *bytes.Buffer, address domain.Address) {
	for _, line := range []string{
		address.Recipient,
		address.Line1,
		address.Line2,
		strings.TrimSpace(strings.Join([]string{address.City, address.State, address.PostalCode}, " ")),
		address.Country,
	} {
		if line = strings.TrimSpace(line); line != "" {
			b.WriteString("  ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
}
