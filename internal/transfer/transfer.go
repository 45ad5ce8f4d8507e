// Package transfer provides SFTP-based file distribution across the
// cluster: push one local file to every node, or pull one remote file
// back from every node.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// ProgressFunc is called during a transfer with the node name, bytes
// transferred so far, and total expected bytes (0 if unknown).
type ProgressFunc func(node string, transferred, total int64)

// PushFile uploads a local file to a remote path on a single node via SFTP.
// It computes a SHA-256 checksum during transfer and verifies it against
// the remote copy before reporting success.
func PushFile(ctx context.Context, sshClient *ssh.Client, localPath, remotePath, node string, progressFn ProgressFunc) (checksum string, bytesWritten int64, err error) {
	localFile, err := os.Open(localPath)
	if err != nil {
		return "", 0, fmt.Errorf("open local file: %w", err)
	}
	defer localFile.Close()

	stat, err := localFile.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("stat local file: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return "", 0, fmt.Errorf("sftp client: %w", err)
	}
	defer sftpClient.Close()

	// Ensure remote directory exists. Use path (not filepath) because
	// remotePath is always a Unix path on the remote node.
	remoteDir := path.Dir(remotePath)
	if remoteDir != "." && remoteDir != "/" {
		if err := sftpClient.MkdirAll(remoteDir); err != nil {
			return "", 0, fmt.Errorf("create remote dir %s: %w", remoteDir, err)
		}
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return "", 0, fmt.Errorf("create remote file: %w", err)
	}

	hasher := sha256.New()
	pw := &progressWriter{w: remoteFile, node: node, total: stat.Size(), onProgress: progressFn}
	writer := io.MultiWriter(pw, hasher)

	written, err := copyWithContext(ctx, writer, localFile)
	// Close the remote file to flush writes before checksum verification.
	remoteFile.Close()
	if err != nil {
		return "", written, fmt.Errorf("copy: %w", err)
	}

	localChecksum := hex.EncodeToString(hasher.Sum(nil))

	remoteChecksum, err := remoteSHA256(sftpClient, remotePath)
	if err != nil {
		return localChecksum, written, fmt.Errorf("remote checksum verification failed: %w", err)
	}
	if remoteChecksum != localChecksum {
		return localChecksum, written, fmt.Errorf("checksum mismatch: local=%s remote=%s", localChecksum, remoteChecksum)
	}

	return localChecksum, written, nil
}

// PullFile downloads a remote file to a local directory via SFTP.
// Files are saved as localDir/<node>/<filename> so pulls from the whole
// cluster never collide.
func PullFile(ctx context.Context, sshClient *ssh.Client, remotePath, localDir, node string, progressFn ProgressFunc) (checksum string, bytesWritten int64, err error) {
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return "", 0, fmt.Errorf("sftp client: %w", err)
	}
	defer sftpClient.Close()

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return "", 0, fmt.Errorf("open remote file: %w", err)
	}
	defer remoteFile.Close()

	stat, err := remoteFile.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("stat remote file: %w", err)
	}

	nodeDir := filepath.Join(localDir, node)
	if err := os.MkdirAll(nodeDir, 0755); err != nil {
		return "", 0, fmt.Errorf("create local dir: %w", err)
	}

	localPath := filepath.Join(nodeDir, filepath.Base(remotePath))
	localFile, err := os.Create(localPath)
	if err != nil {
		return "", 0, fmt.Errorf("create local file: %w", err)
	}
	defer localFile.Close()

	hasher := sha256.New()
	pw := &progressWriter{w: localFile, node: node, total: stat.Size(), onProgress: progressFn}
	writer := io.MultiWriter(pw, hasher)

	written, err := copyWithContext(ctx, writer, remoteFile)
	if err != nil {
		return "", written, fmt.Errorf("copy: %w", err)
	}

	localChecksum := hex.EncodeToString(hasher.Sum(nil))

	remoteChecksum, err := remoteSHA256(sftpClient, remotePath)
	if err != nil {
		return localChecksum, written, fmt.Errorf("remote checksum verification failed: %w", err)
	}
	if remoteChecksum != localChecksum {
		return localChecksum, written, fmt.Errorf("checksum mismatch: local=%s remote=%s", localChecksum, remoteChecksum)
	}

	return localChecksum, written, nil
}

// remoteSHA256viaSFTP computes the SHA-256 checksum of a remote file by
// reading it back over SFTP. This avoids shell command injection risks and
// doesn't require sha256sum to be installed on the remote node.
func remoteSHA256viaSFTP(sftpClient *sftp.Client, remotePath string) (string, error) {
	f, err := sftpClient.Open(remotePath)
	if err != nil {
		return "", fmt.Errorf("open remote file for checksum: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("read remote file for checksum: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

var remoteSHA256 = remoteSHA256viaSFTP

// copyWithContext copies from src to dst, checking for context cancellation
// between buffered chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, writeErr := dst.Write(buf[:nr])
			written += int64(nw)
			if writeErr != nil {
				return written, writeErr
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}

// progressWriter wraps an io.Writer and reports bytes written via a callback.
type progressWriter struct {
	w           io.Writer
	node        string
	transferred int64
	total       int64
	onProgress  ProgressFunc
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.transferred += int64(n)
	if pw.onProgress != nil {
		pw.onProgress(pw.node, pw.transferred, pw.total)
	}
	return n, err
}
