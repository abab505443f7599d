package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/aweris/blefs"
	"github.com/spf13/cobra"
)

var encodeCmd = &cobra.Command{
	Use:   "encode <op> [args...]",
	Short: "Print a hex request frame",
	Long: `Print the hex encoding of one request, for writing by hand with a generic BLE tool.

  echo <text>             echo text back
  upload <file>           store file under the MD5 of its contents
  delete <file>           delete the stored copy of file
  delete <md5> <size>     delete by hash and size
  list                    list stored files
  download <name>         fetch a stored file`,
	Args:      cobra.MinimumNArgs(1),
	ValidArgs: []string{"echo", "upload", "delete", "list", "download"},
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest(args[0], args[1:], os.ReadFile)
		if err != nil {
			return err
		}
		frame, err := req.MarshalBinary()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(frame))
		return nil
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Describe a hex request frame",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		frame, err := hex.DecodeString(args[0])
		if err != nil {
			return fmt.Errorf("not hex: %w", err)
		}
		req, err := blefs.DecodeRequest(frame)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), describe(req))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(encodeCmd, decodeCmd)
}

func buildRequest(op string, args []string, readFile func(string) ([]byte, error)) (blefs.Request, error) {
	want := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d argument(s), got %d", op, n, len(args))
		}
		return nil
	}

	switch op {
	case "echo":
		if err := want(1); err != nil {
			return nil, err
		}
		return blefs.EchoRequest{Data: []byte(args[0])}, nil

	case "upload":
		if err := want(1); err != nil {
			return nil, err
		}
		content, err := readFile(args[0])
		if err != nil {
			return nil, err
		}
		return blefs.NewUploadRequest(content), nil

	case "delete":
		if len(args) == 2 {
			hash, err := blefs.ParseHash(args[0])
			if err != nil {
				return nil, err
			}
			size, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("size: %w", err)
			}
			return blefs.DeleteRequest{Hash: hash, Size: uint32(size)}, nil
		}
		if err := want(1); err != nil {
			return nil, err
		}
		content, err := readFile(args[0])
		if err != nil {
			return nil, err
		}
		up := blefs.NewUploadRequest(content)
		return blefs.DeleteRequest{Hash: up.Hash, Size: up.Size}, nil

	case "list":
		if err := want(0); err != nil {
			return nil, err
		}
		return blefs.ListRequest{}, nil

	case "download":
		if err := want(1); err != nil {
			return nil, err
		}
		return blefs.DownloadRequest{Name: args[0]}, nil
	}
	return nil, fmt.Errorf("unknown op %q", op)
}

func describe(r blefs.Request) string {
	switch r := r.(type) {
	case blefs.EchoRequest:
		return fmt.Sprintf("echo %q", r.Data)
	case blefs.UploadRequest:
		return fmt.Sprintf("upload hash=%s size=%d content=%d bytes", r.Hash, r.Size, len(r.Content))
	case blefs.DeleteRequest:
		return fmt.Sprintf("delete hash=%s size=%d", r.Hash, r.Size)
	case blefs.ListRequest:
		return "list"
	case blefs.DownloadRequest:
		return fmt.Sprintf("download %q", r.Name)
	}
	return r.Opcode().String()
}
