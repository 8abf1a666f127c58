// SPDX-License-Identifier: AGPL-3.0-only
package router

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	transport "github.com/aws/smithy-go/endpoints"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	mcredentials "github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/s3eon/b2edge/internal/auth"
	"github.com/s3eon/b2edge/internal/origin"
	"github.com/s3eon/b2edge/internal/secretstore"
	"github.com/s3eon/b2edge/internal/signer"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/wait"
)

const tMinioRegionPattern = `^s3\.([[:alnum:]\-]+)\.minio\.test$`

// TestRouterMinio routes AMS requests through a failing origin and an
// unreachable one before a MinIO origin that requires signed reads.
func TestRouterMinio(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	accessKey := uuid.New().String()
	secretKey := uuid.New().String()
	bucket := "test-" + uuid.New().String()

	container, minioEndpoint, certFile, err := runMinioContainer(t, accessKey, secretKey, bucket)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(context.Background()) })

	// seed an object directly
	key := "videos/intro.mp4"
	content := make([]byte, 3*1024*1024)
	_, err = rand.Read(content)
	require.NoError(t, err)
	tPutMinioObject(t, minioEndpoint, certFile, accessKey, secretKey, bucket, key, content)

	// unhealthy origins
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	bt, err := NewBackendTransport(map[string]string{
		origin.EUCentral: failing.URL,
		origin.USEast:    closed.URL,
		origin.USWest:    minioEndpoint,
	}, WithAdditionalCACert(certFile), WithResponseHeaderTimeout(30*time.Second))
	require.NoError(t, err)

	origins := map[string]origin.Origin{
		origin.EUCentral: {BackendName: origin.EUCentral, BucketName: bucket, BucketHost: "s3.eu-central-1.minio.test"},
		origin.USEast:    {BackendName: origin.USEast, BucketName: bucket, BucketHost: "s3.us-east-2.minio.test"},
		origin.USWest:    {BackendName: origin.USWest, BucketName: bucket, BucketHost: "s3.us-east-1.minio.test"},
	}
	registry, err := origin.BuildRegistry(origins, origin.BuiltinLayout, origin.DefaultOrder)
	require.NoError(t, err)

	regions, err := origin.NewRegionExtractor(tMinioRegionPattern)
	require.NoError(t, err)
	require.NoError(t, regions.Validate(registry.Origins()))

	store := secretstore.NewMap(map[string]map[string]string{
		auth.DefaultStoreName: {
			origin.USWest + auth.AccessKeyIDSuffix:     accessKey,
			origin.USWest + auth.SecretAccessKeySuffix: secretKey,
		},
	})

	for _, signerName := range []string{"aws", "minio"} {
		t.Run(signerName, func(t *testing.T) {
			sig, err := signer.New(signerName)
			require.NoError(t, err)

			r, err := New(registry, tResolver(map[string]string{"FASTLY_POP": "AMS"}), bt,
				WithAuthenticator(auth.NewSigning(auth.SigningOptions{Store: store, Signer: sig, Regions: regions})),
			)
			require.NoError(t, err)
			s := httptest.NewServer(r)
			defer s.Close()
			httpClient := s.Client()

			t.Run("HTTP", func(t *testing.T) {
				res, err := httpClient.Get(s.URL + "/" + bucket + "/" + key + "?cache-buster=1")
				require.NoError(t, err)
				defer res.Body.Close()

				b, err := io.ReadAll(res.Body)
				require.NoError(t, err)
				require.Equal(t, http.StatusOK, res.StatusCode, string(b))
				require.Equal(t, content, b)
				require.Equal(t, origins[origin.USWest].Host(), res.Header.Get(DefaultDiagnosticHeader))
			})

			t.Run("Unsigned", func(t *testing.T) {
				req, err := http.NewRequest(http.MethodDelete, s.URL+"/"+bucket+"/"+key, nil)
				require.NoError(t, err)
				res, err := httpClient.Do(req)
				require.NoError(t, err)
				defer res.Body.Close()

				require.Equal(t, http.StatusForbidden, res.StatusCode)
				require.Equal(t, origins[origin.USWest].Host(), res.Header.Get(DefaultDiagnosticHeader))
			})

			t.Run("AWSSdk", func(t *testing.T) {
				// client signatures are replaced on reads
				cfg, err := config.LoadDefaultConfig(t.Context(),
					config.WithRegion("us-east-1"),
					config.WithHTTPClient(httpClient),
					config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("edge-client", "not-the-origin-secret", "")),
				)
				require.NoError(t, err)
				client := s3.NewFromConfig(cfg, func(o *s3.Options) {
					o.UsePathStyle = true
					o.EndpointResolverV2 = &tStaticResolver{url: s.URL}
				})

				head, err := client.HeadObject(t.Context(), &s3.HeadObjectInput{
					Bucket: aws.String(bucket),
					Key:    aws.String(key),
				})
				require.NoError(t, err)
				require.Equal(t, int64(len(content)), aws.ToInt64(head.ContentLength))

				get, err := client.GetObject(t.Context(), &s3.GetObjectInput{
					Bucket: aws.String(bucket),
					Key:    aws.String(key),
				})
				require.NoError(t, err)
				defer get.Body.Close()

				c, err := io.ReadAll(get.Body)
				require.NoError(t, err)
				require.Equal(t, content, c)
			})

			t.Run("MinioSDK", func(t *testing.T) {
				u, _ := url.Parse(s.URL)
				minioClient, err := minio.New(u.Host, &minio.Options{
					Creds:        mcredentials.NewStaticV4("", "", ""),
					Transport:    httpClient.Transport,
					Region:       "us-east-1",
					BucketLookup: minio.BucketLookupPath,
					Secure:       u.Scheme == "https",
				})
				require.NoError(t, err)

				info, err := minioClient.StatObject(t.Context(), bucket, key, minio.StatObjectOptions{})
				require.NoError(t, err)
				require.Equal(t, int64(len(content)), info.Size)

				obj, err := minioClient.GetObject(t.Context(), bucket, key, minio.GetObjectOptions{})
				require.NoError(t, err)
				defer obj.Close()

				c, err := io.ReadAll(obj)
				require.NoError(t, err)
				require.Equal(t, content, c)
			})
		})
	}
}

func tPutMinioObject(t *testing.T, endpoint, certFile, accessKey, secretKey, bucket, key string, content []byte) {
	t.Helper()

	caPEM, err := os.ReadFile(certFile)
	require.NoError(t, err)
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(caPEM))

	u, err := url.Parse(endpoint)
	require.NoError(t, err)
	client, err := minio.New(u.Host, &minio.Options{
		Creds:     mcredentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:    true,
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}},
	})
	require.NoError(t, err)

	_, err = client.PutObject(t.Context(), bucket, key,
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "video/mp4"})
	require.NoError(t, err)
}

type tStaticResolver struct{ url string }

func (s *tStaticResolver) ResolveEndpoint(ctx context.Context, params s3.EndpointParameters) (transport.Endpoint, error) {
	u := s.url
	if params.Bucket != nil {
		u += "/" + *params.Bucket
	}
	ur, err := url.Parse(u)
	if err != nil {
		return transport.Endpoint{}, err
	}
	return transport.Endpoint{
		URI: *ur,
	}, nil
}

func runMinioContainer(t *testing.T, accessKeyId, secretAccessKey, bucket string) (container testcontainers.Container, url, certfile string, err error) {
	certDir := t.TempDir()

	_, certfile, err = generateSelfSignedCert(certDir, []string{"localhost", "127.0.0.1"})
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to generate self-signed cert: %w", err)
	}

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     accessKeyId,
			"MINIO_ROOT_PASSWORD": secretAccessKey,
		},
		Cmd: []string{"server", "/data"},
		Mounts: []testcontainers.ContainerMount{
			{
				Source: testcontainers.GenericBindMountSource{
					HostPath: certDir,
				},
				Target:   "/root/.minio/certs",
				ReadOnly: true,
			},
		},
		WaitingFor: wait.ForExposedPort(),
		LogConsumerCfg: &testcontainers.LogConsumerConfig{
			Consumers: []testcontainers.LogConsumer{
				tContainerLogger{t: t},
			},
		},
	}

	container, err = testcontainers.GenericContainer(t.Context(), testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return
	}

	exitCode, out, err := container.Exec(t.Context(), []string{
		"sh", "-c", fmt.Sprintf(`
				mc alias set local https://localhost:9000 '%s' '%s';
				mc mb "local/%s";
			`, accessKeyId, secretAccessKey, bucket),
	}, exec.WithEnv([]string{"MC_INSECURE=true"}))
	if err != nil || exitCode != 0 {
		b, _ := io.ReadAll(out)
		err = fmt.Errorf("failed to create bucket: %s: %w", b, err)
		return
	}

	host, err := container.Host(t.Context())
	if err != nil {
		return
	}

	mappedPort, err := container.MappedPort(t.Context(), "9000")
	if err != nil {
		return
	}
	url = fmt.Sprintf("https://%s:%s", host, mappedPort.Port())

	return
}

func generateSelfSignedCert(certDir string, hosts []string) (certBytes []byte, certFile string, err error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, "", err
	}

	serialNumber, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, "", err
	}

	tmpl := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"TestOrg"},
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}

	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, "", err
	}

	certOut, err := os.Create(filepath.Join(certDir, "public.crt"))
	if err != nil {
		return nil, "", err
	}
	defer certOut.Close()
	certBuf := bytes.Buffer{}
	if err := pem.Encode(io.MultiWriter(certOut, &certBuf), &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return nil, "", err
	}

	keyOut, err := os.Create(filepath.Join(certDir, "private.key"))
	if err != nil {
		return nil, "", err
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)}); err != nil {
		return nil, "", err
	}

	return certBuf.Bytes(), certOut.Name(), nil
}

type tContainerLogger struct {
	t *testing.T
}

func (t tContainerLogger) Accept(l testcontainers.Log) {
	t.t.Helper()
	t.t.Log(string(l.Content))
}
