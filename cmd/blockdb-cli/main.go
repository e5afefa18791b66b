// Copyright (c) 2024 The Phoenix Network developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// blockdb-cli is a maintenance tool for inspecting the phoenixd block store:
// it scans the flat block files, resolves index entries, and reports the
// recorded chain state.
package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"gitlab.com/phoenix-network/phoenixd/blockdb"
	"gitlab.com/phoenix-network/phoenixd/chaincfg"
	"gitlab.com/phoenix-network/phoenixd/types/chainhash"
	"gitlab.com/phoenix-network/phoenixd/types/wire"
)

func main() {
	app := &cli.App{
		Name:  "blockdb-cli",
		Usage: "inspect a phoenixd block store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "datadir",
				Usage:    "path to the block store data directory",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "testnet",
				Usage: "the store belongs to the test network",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "scan",
				Usage:  "walk every block record in the flat files",
				Action: scanCommand,
			},
			{
				Name:   "tip",
				Usage:  "print the recorded best chain tip",
				Action: tipCommand,
			},
			{
				Name:      "tx",
				Usage:     "look up a transaction index entry",
				ArgsUsage: "<txid>",
				Action:    txCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore opens the store named by the global flags.
func openStore(c *cli.Context) (*blockdb.Store, error) {
	net := chaincfg.MainNetParams.Net
	if c.Bool("testnet") {
		net = chaincfg.TestNetParams.Net
	}
	return blockdb.Open(c.String("datadir"), net)
}

// scanCommand walks the block files in order and prints one line per block.
func scanCommand(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	count := 0
	var totalBytes uint64
	err = store.ScanBlocks(func(file, blockPos uint32, serialized []byte) error {
		var block wire.MsgBlock
		if err := block.Deserialize(bytes.NewReader(serialized)); err != nil {
			return fmt.Errorf("blk%04d.dat@%d: %v", file, blockPos, err)
		}
		fmt.Printf("blk%04d.dat@%-10d %s  txns=%d  size=%d\n",
			file, blockPos, block.BlockHash(), len(block.Transactions),
			len(serialized))
		count++
		totalBytes += uint64(len(serialized))
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("%d blocks, %d bytes\n", count, totalBytes)
	return nil
}

// tipCommand prints the recorded best chain tip and its index record.
func tipCommand(c *cli.Context) error {
	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	hash, ok, err := store.BestChain()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("store has no recorded best chain")
	}

	rec, ok, err := store.ReadBlockIndex(&hash)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("best chain hash %s has no index record", hash)
	}

	fmt.Printf("tip      %s\n", hash)
	fmt.Printf("height   %d\n", rec.Height)
	fmt.Printf("file     blk%04d.dat@%d\n", rec.File, rec.BlockPos)
	fmt.Printf("time     %s\n", rec.Header.Timestamp)
	fmt.Printf("bits     %08x\n", rec.Header.Bits)

	work, err := store.BestInvalidWork()
	if err == nil && work.Sign() > 0 {
		fmt.Printf("best invalid work %s\n", work)
	}
	return nil
}

// txCommand resolves a transaction id through the index.
func txCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one txid argument")
	}
	txid, err := chainhash.NewHashFromStr(c.Args().First())
	if err != nil {
		return fmt.Errorf("invalid txid: %v", err)
	}

	store, err := openStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	entry, ok, err := store.ReadTxIndex(txid)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("txid %s is not indexed", txid)
	}

	fmt.Printf("position blk%04d.dat@%d tx@%d\n",
		entry.Pos.File, entry.Pos.BlockPos, entry.Pos.TxPos)
	for i := range entry.Spent {
		spent := &entry.Spent[i]
		if spent.IsNull() {
			fmt.Printf("out %-3d  unspent\n", i)
		} else {
			fmt.Printf("out %-3d  spent at blk%04d.dat@%d tx@%d\n",
				i, spent.File, spent.BlockPos, spent.TxPos)
		}
	}
	return nil
}
