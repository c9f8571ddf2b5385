// Command dwnd runs a node daemon: the gRPC replication listener, the local
// HTTP API, and the background sync engine, all configured from one JSON file.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"google.golang.org/grpc"

	"github.com/openwebnode/dwn/agent"
	"github.com/openwebnode/dwn/did"
	"github.com/openwebnode/dwn/httpapi"
	"github.com/openwebnode/dwn/node"
	"github.com/openwebnode/dwn/node/index"
	"github.com/openwebnode/dwn/nodeconfig"
	"github.com/openwebnode/dwn/storage/casregistry"
	"github.com/openwebnode/dwn/storage/grpcblob"
	dwnsync "github.com/openwebnode/dwn/sync"
	"github.com/openwebnode/dwn/sync/grpcnode"

	_ "github.com/openwebnode/dwn/storage/localfs"
	_ "github.com/openwebnode/dwn/storage/sqlitecas"
)

func main() {
	configPath := flag.String("config", "", "path to the node config file")
	listenGRPC := flag.String("listen-grpc", "", "override the gRPC listen address")
	listenHTTP := flag.String("listen-http", "", "override the HTTP listen address")
	serveBlobs := flag.Bool("serve-blobs", false, "also expose the payload store over gRPC")
	listBackends := flag.Bool("list-backends", false, "list supported storage backends and exit")
	flag.Parse()

	if *listBackends {
		for _, b := range casregistry.List(casregistry.UsageDaemon) {
			if b.Description == "" {
				fmt.Println(b.Name)
				continue
			}
			fmt.Printf("%s\t%s\n", b.Name, b.Description)
		}
		return
	}

	if err := run(*configPath, *listenGRPC, *listenHTTP, *serveBlobs); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, listenGRPC, listenHTTP string, serveBlobs bool) error {
	if configPath == "" {
		return fmt.Errorf("dwnd: --config is required")
	}
	cfg, err := nodeconfig.LoadFile(configPath)
	if err != nil {
		return err
	}
	if listenGRPC == "" {
		listenGRPC = cfg.GRPCAddr()
	}
	if listenHTTP == "" {
		listenHTTP = cfg.HTTPAddr()
	}

	ks, err := did.OpenKeystore(cfg.Owner.KeystoreDir)
	if err != nil {
		return err
	}
	id, err := ks.Load(cfg.Owner.Name, cfg.Owner.Device)
	if err != nil {
		return err
	}
	glog.Infof("dwnd: running as %s", id.DID)

	cas, closeCAS, err := cfg.Storage.Open(casregistry.UsageDaemon)
	if err != nil {
		return err
	}
	defer closeCAS()

	ix, err := index.Open(cfg.IndexPath)
	if err != nil {
		return err
	}
	defer ix.Close()

	n := node.New(id.DID, cas, ix)
	a := agent.New(id, n)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	grpcLis, err := net.Listen("tcp", listenGRPC)
	if err != nil {
		return err
	}
	grpcSrv := grpc.NewServer()
	grpcnode.RegisterNodeSyncServer(grpcSrv, grpcnode.NewServer(n))
	if serveBlobs {
		grpcblob.RegisterBlobStoreServer(grpcSrv, &grpcblob.Server{CAS: cas})
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		glog.Infof("dwnd: grpc listening on %s", grpcLis.Addr())
		if err := grpcSrv.Serve(grpcLis); err != nil {
			glog.Errorf("dwnd: grpc server: %v", err)
		}
	}()

	api := httpapi.NewServer(a)
	api.Peers = cfg.Sync.Peers
	httpSrv := &http.Server{
		Addr:    listenHTTP,
		Handler: api.Router(),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		glog.Infof("dwnd: http listening on %s", listenHTTP)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Errorf("dwnd: http server: %v", err)
		}
	}()

	interval, err := cfg.Sync.IntervalDuration()
	if err != nil {
		return err
	}
	if len(cfg.Sync.Peers) > 0 {
		engine := dwnsync.NewEngine(n, interval)
		var peerCloses []func() error
		for peerDID, target := range cfg.Sync.Peers {
			client, err := grpcnode.Dial(target, grpcnode.DialOptions{Timeout: 5 * time.Second})
			if err != nil {
				return err
			}
			peerCloses = append(peerCloses, client.Close)
			engine.AddPeer(peerDID, client)
		}
		defer func() {
			for _, closeFn := range peerCloses {
				_ = closeFn()
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.Run(ctx)
		}()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	glog.Infof("dwnd: shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	wg.Wait()
	return nil
}
