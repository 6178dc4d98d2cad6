// Command sealkey seals a hex dispatch key for gateway.dispatch_private_key.
//
//	go run ./cmd/vault/sealkey -generate-master
//	VAULT_MASTER_KEY=... go run ./cmd/vault/sealkey -key 0x...
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/chainsafe/xchain-vault/pkg/keys"
)

func main() {
	generate := flag.Bool("generate-master", false, "Print a new base64 master key and exit")
	key := flag.String("key", "", "Hex-encoded secp256k1 private key to seal")
	flag.Parse()

	if *generate {
		master, err := keys.GenerateMasterKey()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(keys.MasterKeyToBase64(master))
		return
	}

	master, err := keys.MasterKeyFromBase64(os.Getenv("VAULT_MASTER_KEY"))
	if err != nil {
		log.Fatalf("VAULT_MASTER_KEY: %s", err)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(*key, "0x"))
	if err != nil {
		log.Fatalf("invalid -key: %s", err)
	}
	sealed, err := keys.Seal(raw, master)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(sealed)
}
