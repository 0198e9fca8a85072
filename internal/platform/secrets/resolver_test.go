package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const sendgridResource = "projects/shop/secrets/sendgrid_api_key/versions/latest"

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values[sendgridResource] = "remote-secret"

	resolver, err := NewResolver(ctx, WithSecretManagerClient(client), WithDefaultProject("shop"), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}
	defer resolver.Close()

	for i := 0; i < 2; i++ {
		got, err := resolver.ResolveSecret(ctx, "secret://sendgrid_api_key")
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if got != "remote-secret" {
			t.Fatalf("expected remote-secret, got %s", got)
		}
	}
	if calls := client.callCount(sendgridResource); calls != 1 {
		t.Fatalf("expected remote fetch once, got %d", calls)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()
	fallbackPath := writeFallback(t, "# local overrides\nsm://sendgrid_api_key=local-secret\n")

	client := newFakeSecretClient()
	client.errors[sendgridResource] = status.Error(codes.PermissionDenied, "denied")

	resolver, err := NewResolver(ctx, WithSecretManagerClient(client), WithDefaultProject("shop"), WithFallbackFile(fallbackPath))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}

	got, err := resolver.Resolve(ctx, "secret://sendgrid_api_key")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "local-secret" {
		t.Fatalf("expected fallback secret local-secret, got %s", got)
	}
}

func TestResolveUsesProjectMapAndVersionPins(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	pinned := "projects/shop-prod/secrets/sendgrid_api_key/versions/5"
	client.values[pinned] = "version-5"

	resolver, err := NewResolver(ctx,
		WithSecretManagerClient(client),
		WithEnvironment("PROD"),
		WithDefaultProject("shop"),
		WithProjectMap(map[string]string{"prod": "shop-prod"}),
		WithVersionPins(map[string]string{"prod:secret://sendgrid_api_key": "5"}),
	)
	if err != nil {
		t.Fatalf("NewResolver error: %v", err)
	}

	got, err := resolver.Resolve(ctx, "secret://sendgrid_api_key")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "version-5" {
		t.Fatalf("expected version-5, got %s", got)
	}
	if calls := client.callCount(pinned); calls != 1 {
		t.Fatalf("expected fetch of version 5, got %d calls", calls)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()
	fallbackPath := writeFallback(t, "secret://sendgrid_api_key=local-secret\n")

	client := newFakeSecretClient()
	client.errors[sendgridResource] = status.Error(codes.NotFound, "missing")

	resolver, err := NewResolver(ctx, WithSecretManagerClient(client), WithDefaultProject("shop"), WithFallbackFile(fallbackPath))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}

	if _, err := resolver.Resolve(ctx, "secret://sendgrid_api_key"); err == nil {
		t.Fatal("expected error when secret is missing")
	}
}

func TestResolveRejectsInvalidReferences(t *testing.T) {
	resolver, err := NewResolver(context.Background(), WithSecretManagerClient(newFakeSecretClient()))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}
	for _, ref := range []string{"", "https://example.com/x", "secret://"} {
		if _, err := resolver.Resolve(context.Background(), ref); err == nil {
			t.Errorf("expected error for %q", ref)
		}
	}
}

func TestNewResolverWithoutCredentialsUsesFallback(t *testing.T) {
	ctx := context.Background()

	originalFactory := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() {
		secretManagerClientFactory = originalFactory
	})

	fallbackPath := writeFallback(t, "secret://sendgrid_api_key=local-secret\n")
	resolver, err := NewResolver(ctx, WithDefaultProject("shop"), WithFallbackFile(fallbackPath))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}
	defer resolver.Close()

	value, err := resolver.Resolve(ctx, "secret://sendgrid_api_key")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "local-secret" {
		t.Fatalf("expected local secret, got %s", value)
	}
}

func writeFallback(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}
	return path
}

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetName()
	f.counter[name]++
	if err, ok := f.errors[name]; ok {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
