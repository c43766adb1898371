package main

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"sealdrop/internal/client"
	"sealdrop/internal/sealedbox"
)

type credentials struct {
	ServerURL    string `json:"serverUrl"`
	UID          string `json:"uid"`
	SocialNumber string `json:"socialNumber"`
	Token        string `json:"token"`
	PublicKey    string `json:"publicKey"`
	PrivateKey   string `json:"privateKey"`
}

func newRootCmd() *cobra.Command {
	var server string

	root := &cobra.Command{
		Use:           "sealdrop-client",
		Short:         "End-to-end encrypted messaging client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&server, "server", "http://localhost:3000", "server base URL")

	root.AddCommand(newLoginCmd(&server))
	root.AddCommand(newKeygenCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newListenCmd())
	return root
}

func credentialsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sealdrop", "credentials.json"), nil
}

func loadCredentials() (credentials, error) {
	path, err := credentialsPath()
	if err != nil {
		return credentials{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return credentials{}, fmt.Errorf("not logged in: %w", err)
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return credentials{}, err
	}
	return creds, nil
}

func saveCredentials(creds credentials) error {
	path, err := credentialsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func postJSON(url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func authedRequest(method, url, token string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func newLoginCmd(server *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login <email>",
		Short: "Request a login code and exchange it for a session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := args[0]
			if err := postJSON(*server+"/v1/auth/request", map[string]string{"email": email}, nil); err != nil {
				return err
			}

			fmt.Print("Enter the code you received: ")
			scanner := bufio.NewScanner(os.Stdin)
			if !scanner.Scan() {
				return fmt.Errorf("no code entered")
			}
			code := strings.TrimSpace(scanner.Text())

			var reply struct {
				UID          string `json:"uid"`
				SocialNumber string `json:"socialNumber"`
				Token        string `json:"token"`
			}
			if err := postJSON(*server+"/v1/auth/verify", map[string]string{"email": email, "code": code}, &reply); err != nil {
				return err
			}

			creds, _ := loadCredentials()
			creds.ServerURL = *server
			creds.UID = reply.UID
			creds.SocialNumber = reply.SocialNumber
			creds.Token = reply.Token
			if err := saveCredentials(creds); err != nil {
				return err
			}

			fmt.Printf("Logged in. Your social number is %s\n", reply.SocialNumber)
			return nil
		},
	}
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a key pair and upload the public half",
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := loadCredentials()
			if err != nil {
				return err
			}

			pub, priv, err := sealedbox.GenerateKeyPair()
			if err != nil {
				return err
			}

			if err := authedRequest(http.MethodPut, creds.ServerURL+"/v1/profile/publicKey", creds.Token,
				map[string][]byte{"publicKey": pub}, nil); err != nil {
				return err
			}

			creds.PublicKey = base64.StdEncoding.EncodeToString(pub)
			creds.PrivateKey = base64.StdEncoding.EncodeToString(priv)
			if err := saveCredentials(creds); err != nil {
				return err
			}

			fmt.Println("Key pair generated and public key uploaded.")
			return nil
		},
	}
}

func wsURL(serverURL string) string {
	url := strings.Replace(serverURL, "http", "ws", 1)
	return url + "/ws"
}

func newSendCmd() *cobra.Command {
	var audio bool

	cmd := &cobra.Command{
		Use:   "send <socialNumber> <message>",
		Short: "Send an encrypted message to a contact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := loadCredentials()
			if err != nil {
				return err
			}
			if creds.PrivateKey == "" {
				return fmt.Errorf("no key pair; run keygen first")
			}

			var contact struct {
				UID       string `json:"uid"`
				PublicKey []byte `json:"publicKey"`
			}
			if err := authedRequest(http.MethodGet,
				creds.ServerURL+"/v1/users/"+args[0]+"/publicKey", creds.Token, nil, &contact); err != nil {
				return err
			}

			priv, err := base64.StdEncoding.DecodeString(creds.PrivateKey)
			if err != nil {
				return err
			}
			pub, err := base64.StdEncoding.DecodeString(creds.PublicKey)
			if err != nil {
				return err
			}

			c, err := client.Dial(wsURL(creds.ServerURL), creds.UID, creds.Token, priv)
			if err != nil {
				return err
			}
			defer c.Close()

			id, err := c.Send(contact.UID, contact.PublicKey, pub, []byte(args[1]), audio)
			if err != nil {
				return err
			}
			fmt.Printf("Sent %s\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&audio, "audio", false, "mark the payload as audio")
	return cmd
}

func newListenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Connect and print incoming messages as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := loadCredentials()
			if err != nil {
				return err
			}
			if creds.PrivateKey == "" {
				return fmt.Errorf("no key pair; run keygen first")
			}
			priv, err := base64.StdEncoding.DecodeString(creds.PrivateKey)
			if err != nil {
				return err
			}

			c, err := client.Dial(wsURL(creds.ServerURL), creds.UID, creds.Token, priv)
			if err != nil {
				return err
			}
			defer c.Close()

			fmt.Println("Listening. Ctrl-C to stop.")
			return c.Listen(func(msg client.Message) {
				kind := "text"
				if msg.IsAudio {
					kind = "audio"
				}
				fmt.Printf("[%s] %s (%s): %s\n", msg.ServerTimestamp, msg.SenderUID, kind, msg.Text)
			})
		},
	}
}
