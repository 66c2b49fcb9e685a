package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kjk/kvlog/appendlog"
	"github.com/kjk/kvlog/config"
	"github.com/melbahja/goph"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/sftp"
)

// Target is a place where archives are stored
type Target interface {
	// short name, used in logs and metrics
	Name() string
	Put(ctx context.Context, name string, d []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	// List returns names of all files in the target
	List(ctx context.Context) ([]string, error)
}

// DirTarget stores archives in a local directory
type DirTarget struct {
	Dir string
}

func (t *DirTarget) Name() string {
	return "dir"
}

func (t *DirTarget) Put(ctx context.Context, name string, d []byte) error {
	if err := os.MkdirAll(t.Dir, 0755); err != nil {
		return err
	}
	return appendlog.WriteFileAtomically(filepath.Join(t.Dir, name), d)
}

func (t *DirTarget) Get(ctx context.Context, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(t.Dir, name))
}

func (t *DirTarget) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(t.Dir)
	if err != nil {
		return nil, err
	}
	var res []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			res = append(res, e.Name())
		}
	}
	return res, nil
}

// MinioTarget stores archives in s3-compatible storage
type MinioTarget struct {
	Client *minio.Client
	Bucket string
	Prefix string
}

func NewMinioTarget(c *config.S3) (*MinioTarget, error) {
	if c == nil {
		return nil, errors.New("must provide config")
	}
	if c.Access == "" || c.Secret == "" || c.Bucket == "" || c.Endpoint == "" {
		return nil, errors.New("must provide endpoint, bucket, access and secret")
	}
	mc, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Access, c.Secret, ""),
		Secure: !c.Insecure,
	})
	if err != nil {
		return nil, err
	}
	return &MinioTarget{
		Client: mc,
		Bucket: c.Bucket,
		Prefix: strings.Trim(c.Prefix, "/"),
	}, nil
}

func (t *MinioTarget) Name() string {
	return "s3"
}

func (t *MinioTarget) remotePath(name string) string {
	if t.Prefix == "" {
		return name
	}
	return t.Prefix + "/" + name
}

func (t *MinioTarget) Put(ctx context.Context, name string, d []byte) error {
	opts := minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}
	_, err := t.Client.PutObject(ctx, t.Bucket, t.remotePath(name), bytes.NewReader(d), int64(len(d)), opts)
	return err
}

func (t *MinioTarget) Get(ctx context.Context, name string) ([]byte, error) {
	obj, err := t.Client.GetObject(ctx, t.Bucket, t.remotePath(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (t *MinioTarget) List(ctx context.Context) ([]string, error) {
	opts := minio.ListObjectsOptions{
		Recursive: true,
	}
	if t.Prefix != "" {
		opts.Prefix = t.Prefix + "/"
	}
	var res []string
	for obj := range t.Client.ListObjects(ctx, t.Bucket, opts) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		res = append(res, strings.TrimPrefix(obj.Key, opts.Prefix))
	}
	return res, nil
}

// SFTPTarget uploads archives to a directory on a server over ssh
type SFTPTarget struct {
	User    string
	Host    string
	Port    uint
	KeyPath string
	Dir     string
}

func NewSFTPTarget(c *config.SFTP) (*SFTPTarget, error) {
	if c == nil {
		return nil, errors.New("must provide config")
	}
	if c.Addr == "" || c.User == "" || c.Key == "" || c.Dir == "" {
		return nil, errors.New("must provide addr, user, key and dir")
	}
	t := &SFTPTarget{
		User:    c.User,
		Host:    c.Addr,
		Port:    22,
		KeyPath: c.Key,
		Dir:     c.Dir,
	}
	if host, port, ok := strings.Cut(c.Addr, ":"); ok {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid port in '%s'", c.Addr)
		}
		t.Host = host
		t.Port = uint(n)
	}
	return t, nil
}

// expandTilde converts ~/foo to $HOME/foo
func expandTilde(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

func (t *SFTPTarget) Name() string {
	return "sftp"
}

func (t *SFTPTarget) connect() (*goph.Client, error) {
	auth, err := goph.Key(expandTilde(t.KeyPath), "")
	if err != nil {
		return nil, fmt.Errorf("goph.Key('%s') failed with '%w'", t.KeyPath, err)
	}
	callback, err := goph.DefaultKnownHosts()
	if err != nil {
		return nil, err
	}
	return goph.NewConn(&goph.Config{
		User:     t.User,
		Addr:     t.Host,
		Port:     t.Port,
		Auth:     auth,
		Timeout:  20 * time.Second,
		Callback: callback,
	})
}

// withSftp connects to the server and calls fn with an sftp client
func (t *SFTPTarget) withSftp(fn func(sc *sftp.Client) error) error {
	client, err := t.connect()
	if err != nil {
		return err
	}
	defer client.Close()
	sc, err := client.NewSftp()
	if err != nil {
		return fmt.Errorf("client.NewSftp() failed with '%w'", err)
	}
	defer sc.Close()
	return fn(sc)
}

func (t *SFTPTarget) Put(ctx context.Context, name string, d []byte) error {
	return t.withSftp(func(sc *sftp.Client) error {
		if err := sc.MkdirAll(t.Dir); err != nil {
			return fmt.Errorf("sftp.MkdirAll('%s') failed with '%w'", t.Dir, err)
		}
		// upload under temporary name so that a partial upload is never
		// mistaken for an archive
		remotePath := path.Join(t.Dir, name)
		tmpPath := fmt.Sprintf("%s.tmp-%d", remotePath, time.Now().UnixNano())
		f, err := sc.Create(tmpPath)
		if err != nil {
			return err
		}
		_, err = f.Write(d)
		err2 := f.Close()
		if err = getErr(err, err2); err != nil {
			_ = sc.Remove(tmpPath)
			return err
		}
		if err = sc.PosixRename(tmpPath, remotePath); err != nil {
			_ = sc.Remove(tmpPath)
			return err
		}
		return nil
	})
}

func (t *SFTPTarget) Get(ctx context.Context, name string) ([]byte, error) {
	var res []byte
	err := t.withSftp(func(sc *sftp.Client) error {
		f, err := sc.Open(path.Join(t.Dir, name))
		if err != nil {
			return err
		}
		defer f.Close()
		res, err = io.ReadAll(f)
		return err
	})
	return res, err
}

func (t *SFTPTarget) List(ctx context.Context) ([]string, error) {
	var res []string
	err := t.withSftp(func(sc *sftp.Client) error {
		infos, err := sc.ReadDir(t.Dir)
		if err != nil {
			return err
		}
		for _, fi := range infos {
			if fi.Mode().IsRegular() {
				res = append(res, fi.Name())
			}
		}
		return nil
	})
	return res, err
}
